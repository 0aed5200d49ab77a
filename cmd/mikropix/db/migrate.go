package db

import "database/sql"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id UUID PRIMARY KEY,
		display_name TEXT NOT NULL,
		email TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'user', -- 'admin' или 'user'
		balance NUMERIC(12,2) NOT NULL DEFAULT 0,
		auto_withdraw_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		pix_key TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS devices (
		id UUID PRIMARY KEY,
		owner_id UUID REFERENCES accounts(id), -- NULL у старых роутеров
		name TEXT NOT NULL,
		host TEXT NOT NULL DEFAULT '',
		commission_percentage NUMERIC(5,2) NOT NULL DEFAULT 0,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS plans (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		price NUMERIC(12,2) NOT NULL,
		duration_days INTEGER NOT NULL,
		is_trial BOOLEAN NOT NULL DEFAULT FALSE
	);`,
	`INSERT INTO plans (id, name, price, duration_days, is_trial)
		VALUES ('trial', 'Teste grátis', 0, 7, TRUE)
		ON CONFLICT (id) DO NOTHING;`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
		id UUID PRIMARY KEY,
		account_id UUID NOT NULL REFERENCES accounts(id),
		plan_id TEXT NOT NULL REFERENCES plans(id),
		starts_at TIMESTAMP WITH TIME ZONE NOT NULL,
		expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
		status TEXT NOT NULL DEFAULT 'active'
	);`,
	`CREATE TABLE IF NOT EXISTS pix_sales (
		id TEXT PRIMARY KEY,
		mikrotik_id UUID NOT NULL REFERENCES devices(id),
		user_id UUID REFERENCES accounts(id),
		user_id_provenance TEXT, -- 'direct' или 'backfilled'
		gross_amount NUMERIC(12,2),
		admin_commission NUMERIC(12,2),
		user_commission NUMERIC(12,2),
		status TEXT NOT NULL DEFAULT 'pending',
		mac_address TEXT,
		plan_label TEXT,
		payment_id TEXT,
		paid_at TIMESTAMP WITH TIME ZONE,
		credited_at TIMESTAMP WITH TIME ZONE
	);`,
	`CREATE INDEX IF NOT EXISTS pix_sales_device_paid_idx ON pix_sales (mikrotik_id, paid_at);`,
	`CREATE TABLE IF NOT EXISTS physical_vouchers (
		id TEXT PRIMARY KEY,
		mikrotik_id UUID NOT NULL REFERENCES devices(id),
		amount NUMERIC(12,2),
		mac_address TEXT,
		plan_label TEXT,
		sold_at TIMESTAMP WITH TIME ZONE NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS captive_vouchers (
		id TEXT PRIMARY KEY,
		mikrotik_id UUID NOT NULL REFERENCES devices(id),
		amount NUMERIC(12,2),
		mac_address TEXT,
		plan_label TEXT,
		used_at TIMESTAMP WITH TIME ZONE NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS ledger_transactions (
		id UUID PRIMARY KEY,
		account_id UUID NOT NULL REFERENCES accounts(id),
		kind TEXT NOT NULL, -- 'commission_credit', 'manual_credit' или 'withdrawal_debit'
		amount NUMERIC(12,2) NOT NULL,
		sale_id TEXT UNIQUE,
		sale_gross NUMERIC(12,2),
		sale_admin_commission NUMERIC(12,2),
		sale_paid_at TIMESTAMP WITH TIME ZONE,
		reference TEXT NOT NULL DEFAULT '',
		balance_after NUMERIC(12,2) NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS withdrawals (
		id UUID PRIMARY KEY,
		account_id UUID NOT NULL REFERENCES accounts(id),
		amount NUMERIC(12,2) NOT NULL,
		pix_key TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		remote_id TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
		processed_at TIMESTAMP WITH TIME ZONE
	);`,
	`ALTER TABLE ledger_transactions ADD COLUMN IF NOT EXISTS sale_paid_at TIMESTAMP WITH TIME ZONE;`,
}

func Migrate(db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
