package store

// SQLite statements. Decimals are stored as TEXT and timestamps as unix
// nanoseconds so that ordering stays numeric.
const (
	sqliteInsertAccount = `
		INSERT INTO accounts (user_id, cash_balance, created_at, updated_at)
		VALUES (?, ?, ?, ?)`

	sqliteSelectAccount = `
		SELECT user_id, cash_balance, created_at, updated_at
		FROM accounts WHERE user_id = ?`

	sqliteListAccounts = `
		SELECT user_id, cash_balance, created_at, updated_at
		FROM accounts ORDER BY user_id`

	sqliteDeleteAccount = `DELETE FROM accounts WHERE user_id = ?`

	sqliteUpdateBalance = `
		UPDATE accounts SET cash_balance = ?, updated_at = ?
		WHERE user_id = ?`

	sqliteSelectLedger = `
		SELECT id, seq, user_id, asset_id, type, quantity, unit_price, timestamp
		FROM ledger_entries
		WHERE user_id = ? AND (? = '' OR asset_id = ?)
		ORDER BY timestamp, seq`

	sqliteInsertLedgerEntry = `
		INSERT INTO ledger_entries (id, user_id, asset_id, type, quantity, unit_price, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	sqliteUpsertPrice = `
		INSERT INTO price_points (asset_id, price, at) VALUES (?, ?, ?)
		ON CONFLICT (asset_id, at) DO UPDATE SET price = excluded.price`

	sqliteLatestPrice = `
		SELECT asset_id, price, at FROM price_points
		WHERE asset_id = ? ORDER BY at DESC LIMIT 1`

	sqlitePriceHistory = `
		SELECT asset_id, price, at FROM price_points
		WHERE asset_id = ? AND at >= ? ORDER BY at`
)
