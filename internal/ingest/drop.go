package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Drop is one receipt submission dropped into the inbox as a JSON or YAML
// document. Either CustomerID or CustomerPhone identifies the member.
type Drop struct {
	CustomerID    string   `json:"customer_id" yaml:"customer_id"`
	CustomerPhone string   `json:"customer_phone" yaml:"customer_phone"`
	StoreID       string   `json:"store_id" yaml:"store_id"`
	Text          string   `json:"text" yaml:"text"`
	Confidence    *float64 `json:"confidence" yaml:"confidence"`
	SubmittedAt   string   `json:"submitted_at" yaml:"submitted_at"`
}

// ParseDrop decodes a drop file body; the format follows the extension.
func ParseDrop(path string, body []byte) (*Drop, error) {
	var d Drop
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(body, &d); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&d); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	}
	if strings.TrimSpace(d.Text) == "" {
		return nil, fmt.Errorf("text is required")
	}
	if d.CustomerID == "" && d.CustomerPhone == "" {
		return nil, fmt.Errorf("customer_id or customer_phone is required")
	}
	return &d, nil
}

func (d *Drop) customerID() (uuid.UUID, bool, error) {
	if d.CustomerID == "" {
		return uuid.Nil, false, nil
	}
	id, err := uuid.Parse(d.CustomerID)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("customer_id: %w", err)
	}
	return id, true, nil
}

func (d *Drop) storeID() (*uuid.UUID, error) {
	if d.StoreID == "" {
		return nil, nil
	}
	id, err := uuid.Parse(d.StoreID)
	if err != nil {
		return nil, fmt.Errorf("store_id: %w", err)
	}
	return &id, nil
}

func (d *Drop) submittedAt() (time.Time, error) {
	if d.SubmittedAt == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, d.SubmittedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("submitted_at: %w", err)
	}
	return t, nil
}
