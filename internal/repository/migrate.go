package repository

import (
	"context"

	entsql "entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

var (
	// CustomersColumns holds the columns for the "customers" table.
	CustomersColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "name", Type: field.TypeString},
		{Name: "phone", Type: field.TypeString, Nullable: true},
		{Name: "total_visits", Type: field.TypeInt, Default: 0},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
	}
	// CustomersTable holds the schema information for the "customers" table.
	CustomersTable = &schema.Table{
		Name:       "customers",
		Columns:    CustomersColumns,
		PrimaryKey: []*schema.Column{CustomersColumns[0]},
		Indexes: []*schema.Index{
			{Name: "customer_phone", Unique: true, Columns: []*schema.Column{CustomersColumns[2]}},
		},
	}
	// StoresColumns holds the columns for the "stores" table.
	StoresColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "name", Type: field.TypeString},
		{Name: "tax_id", Type: field.TypeString, Default: ""},
		{Name: "branch_name", Type: field.TypeString, Default: ""},
		{Name: "active", Type: field.TypeBool, Default: true},
		{Name: "created_at", Type: field.TypeTime},
	}
	// StoresTable holds the schema information for the "stores" table.
	StoresTable = &schema.Table{
		Name:       "stores",
		Columns:    StoresColumns,
		PrimaryKey: []*schema.Column{StoresColumns[0]},
		Indexes: []*schema.Index{
			{Name: "store_tax_id", Unique: false, Columns: []*schema.Column{StoresColumns[2]}},
		},
	}
	// ReceiptsColumns holds the columns for the "receipts" table.
	ReceiptsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "customer_id", Type: field.TypeUUID},
		{Name: "store_id", Type: field.TypeUUID, Nullable: true},
		{Name: "raw_text", Type: field.TypeString, Size: 2147483647},
		{Name: "ocr_confidence", Type: field.TypeFloat64, Nullable: true},
		{Name: "invoice_number", Type: field.TypeString, Default: ""},
		{Name: "fields", Type: field.TypeJSON},
		{Name: "confidences", Type: field.TypeJSON},
		{Name: "status", Type: field.TypeString},
		{Name: "reason", Type: field.TypeString, Size: 2147483647, Default: ""},
		{Name: "flags", Type: field.TypeJSON},
		{Name: "fraud_score", Type: field.TypeInt, Default: 0},
		{Name: "submitted_at", Type: field.TypeTime},
		{Name: "decided_at", Type: field.TypeTime, Nullable: true},
		{Name: "audit", Type: field.TypeJSON},
	}
	// ReceiptsTable holds the schema information for the "receipts" table.
	ReceiptsTable = &schema.Table{
		Name:       "receipts",
		Columns:    ReceiptsColumns,
		PrimaryKey: []*schema.Column{ReceiptsColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "receipts_customers_receipts",
				Columns:    []*schema.Column{ReceiptsColumns[1]},
				RefColumns: []*schema.Column{CustomersColumns[0]},
				OnDelete:   schema.NoAction,
			},
			{
				Symbol:     "receipts_stores_receipts",
				Columns:    []*schema.Column{ReceiptsColumns[2]},
				RefColumns: []*schema.Column{StoresColumns[0]},
				OnDelete:   schema.SetNull,
			},
		},
		Indexes: []*schema.Index{
			{Name: "receipt_customer_id_submitted_at", Unique: false, Columns: []*schema.Column{ReceiptsColumns[1], ReceiptsColumns[12]}},
			{Name: "receipt_invoice_number", Unique: false, Columns: []*schema.Column{ReceiptsColumns[5]}},
			{Name: "receipt_status", Unique: false, Columns: []*schema.Column{ReceiptsColumns[8]}},
		},
	}
	// VisitsColumns holds the columns for the "visits" table.
	VisitsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "customer_id", Type: field.TypeUUID},
		{Name: "store_id", Type: field.TypeUUID},
		{Name: "receipt_id", Type: field.TypeUUID, Unique: true, Nullable: true},
		{Name: "visited_at", Type: field.TypeTime},
		{Name: "reward_earned", Type: field.TypeBool, Default: false},
	}
	// VisitsTable holds the schema information for the "visits" table.
	VisitsTable = &schema.Table{
		Name:       "visits",
		Columns:    VisitsColumns,
		PrimaryKey: []*schema.Column{VisitsColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "visits_customers_visits",
				Columns:    []*schema.Column{VisitsColumns[1]},
				RefColumns: []*schema.Column{CustomersColumns[0]},
				OnDelete:   schema.NoAction,
			},
			{
				Symbol:     "visits_stores_visits",
				Columns:    []*schema.Column{VisitsColumns[2]},
				RefColumns: []*schema.Column{StoresColumns[0]},
				OnDelete:   schema.NoAction,
			},
		},
		Indexes: []*schema.Index{
			{Name: "visit_customer_id_visited_at", Unique: false, Columns: []*schema.Column{VisitsColumns[1], VisitsColumns[4]}},
		},
	}
	// RewardsColumns holds the columns for the "rewards" table.
	RewardsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "customer_id", Type: field.TypeUUID},
		{Name: "store_id", Type: field.TypeUUID},
		{Name: "used_at_store_id", Type: field.TypeUUID, Nullable: true},
		{Name: "code", Type: field.TypeString, Unique: true},
		{Name: "status", Type: field.TypeString},
		{Name: "discount_percent", Type: field.TypeInt},
		{Name: "discount_code", Type: field.TypeString, Default: ""},
		{Name: "redemption_payload", Type: field.TypeString, Size: 2147483647, Default: ""},
		{Name: "period_key", Type: field.TypeString},
		{Name: "visit_multiple", Type: field.TypeInt},
		{Name: "issued_at", Type: field.TypeTime},
		{Name: "claimed_at", Type: field.TypeTime, Nullable: true},
		{Name: "redeemed_at", Type: field.TypeTime, Nullable: true},
		{Name: "used_at", Type: field.TypeTime, Nullable: true},
		{Name: "expired_at", Type: field.TypeTime, Nullable: true},
		{Name: "expires_at", Type: field.TypeTime},
	}
	// RewardsTable holds the schema information for the "rewards" table.
	RewardsTable = &schema.Table{
		Name:       "rewards",
		Columns:    RewardsColumns,
		PrimaryKey: []*schema.Column{RewardsColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "rewards_customers_rewards",
				Columns:    []*schema.Column{RewardsColumns[1]},
				RefColumns: []*schema.Column{CustomersColumns[0]},
				OnDelete:   schema.NoAction,
			},
			{
				Symbol:     "rewards_stores_rewards",
				Columns:    []*schema.Column{RewardsColumns[2]},
				RefColumns: []*schema.Column{StoresColumns[0]},
				OnDelete:   schema.NoAction,
			},
		},
		Indexes: []*schema.Index{
			// at most one reward per customer, period and visit multiple
			{Name: "reward_customer_id_period_key_visit_multiple", Unique: true, Columns: []*schema.Column{RewardsColumns[1], RewardsColumns[9], RewardsColumns[10]}},
			{Name: "reward_status_expires_at", Unique: false, Columns: []*schema.Column{RewardsColumns[5], RewardsColumns[16]}},
		},
	}
	// Tables holds all the tables in the schema, in dependency order.
	Tables = []*schema.Table{
		CustomersTable,
		StoresTable,
		ReceiptsTable,
		VisitsTable,
		RewardsTable,
	}
)

func init() {
	ReceiptsTable.ForeignKeys[0].RefTable = CustomersTable
	ReceiptsTable.ForeignKeys[1].RefTable = StoresTable
	VisitsTable.ForeignKeys[0].RefTable = CustomersTable
	VisitsTable.ForeignKeys[1].RefTable = StoresTable
	RewardsTable.ForeignKeys[0].RefTable = CustomersTable
	RewardsTable.ForeignKeys[1].RefTable = StoresTable
}

// Migrate creates or upgrades every table and index.
func Migrate(ctx context.Context, drv *entsql.Driver) error {
	m, err := schema.NewMigrate(drv)
	if err != nil {
		return err
	}
	return m.Create(ctx, Tables...)
}
