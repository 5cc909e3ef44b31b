package rewards

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/receipt-rewards/constants"
	"github.com/joseph-ayodele/receipt-rewards/internal/common"
)

// RedemptionPayload is the document rendered as a QR code at redemption and
// scanned back at the point of sale.
type RedemptionPayload struct {
	Type            string    `json:"type"`
	RewardID        uuid.UUID `json:"rewardId"`
	DiscountCode    string    `json:"discountCode"`
	DiscountPercent int       `json:"discountPercent"`
	CustomerPhone   string    `json:"customerPhone"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

const payloadSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["type", "rewardId", "discountCode", "discountPercent", "expiresAt"],
  "properties": {
    "type": {"const": "reward_discount"},
    "rewardId": {"type": "string", "pattern": "^[0-9a-fA-F-]{36}$"},
    "discountCode": {"type": "string", "pattern": "^D-[A-Z2-7]{8}$"},
    "discountPercent": {"type": "integer", "minimum": 1, "maximum": 100},
    "customerPhone": {"type": "string"},
    "expiresAt": {"type": "string", "minLength": 20}
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func payloadValidator() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("redemption_payload.json", strings.NewReader(payloadSchema)); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile("redemption_payload.json")
	})
	return schema, schemaErr
}

// EncodePayload renders p as compact JSON.
func EncodePayload(p RedemptionPayload) (string, error) {
	p.Type = constants.RedemptionPayloadType
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal redemption payload: %w", err)
	}
	return string(b), nil
}

// DecodePayload validates a scanned payload against the payload schema and decodes it.
func DecodePayload(raw string) (RedemptionPayload, error) {
	var p RedemptionPayload
	s, err := payloadValidator()
	if err != nil {
		return p, common.WrapError(err, "redemption payload schema")
	}

	var doc any
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return p, common.NewAppError("PAYLOAD_MISMATCH", "redemption payload is not valid JSON", common.ErrPayloadMismatch)
	}
	if err := s.Validate(doc); err != nil {
		return p, common.NewAppError("PAYLOAD_MISMATCH", "redemption payload does not match schema", fmt.Errorf("%w: %v", common.ErrPayloadMismatch, err))
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return p, common.NewAppError("PAYLOAD_MISMATCH", "redemption payload could not be decoded", fmt.Errorf("%w: %v", common.ErrPayloadMismatch, err))
	}
	return p, nil
}
