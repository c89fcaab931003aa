// Package sql implements storage.WalletDB on an embedded SQLite database,
// migrated with golang-migrate the same way the mint's own SQL backend is:
// migration files are embedded with go:embed, copied out to a temp
// directory, and applied through migrate.New before the handle is used.
package sql

import (
	"database/sql"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/mattn/go-sqlite3"

	"github.com/keychat-io/cashu-wallet-go/cashu"
	"github.com/keychat-io/cashu-wallet-go/crypto"
	"github.com/keychat-io/cashu-wallet-go/wallet/storage"
)

//go:embed migrations
var migrations embed.FS

type DB struct {
	db *sql.DB
}

func migrationsDir() (string, error) {
	tempDir, err := os.MkdirTemp("", "cashu-wallet-migrations")
	if err != nil {
		return "", err
	}

	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return "", err
	}

	for _, entry := range entries {
		src, err := migrations.Open(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return "", err
		}

		dst, err := os.Create(filepath.Join(tempDir, entry.Name()))
		if err != nil {
			src.Close()
			return "", err
		}

		_, err = io.Copy(dst, src)
		src.Close()
		dst.Close()
		if err != nil {
			return "", err
		}
	}

	return tempDir, nil
}

// Init opens (and migrates) wallet.sqlite.db under path.
func Init(path string) (*DB, error) {
	dbpath := filepath.Join(path, "wallet.sqlite.db")
	db, err := sql.Open("sqlite3", dbpath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	tempDir, err := migrationsDir()
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tempDir)

	m, err := migrate.New(fmt.Sprintf("file://%s", tempDir), fmt.Sprintf("sqlite3://%s", dbpath))
	if err != nil {
		return nil, err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &DB{db: db}, nil
}

func (d *DB) Close() error { return d.db.Close() }

func (d *DB) SaveMnemonicSeed(mnemonic string, seed []byte) {
	d.db.Exec(`INSERT INTO seed (id, mnemonic, seed) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET mnemonic=excluded.mnemonic, seed=excluded.seed`,
		"id", mnemonic, hex.EncodeToString(seed))
}

func (d *DB) GetSeed() []byte {
	var hexSeed string
	row := d.db.QueryRow("SELECT seed FROM seed WHERE id = ?", "id")
	if err := row.Scan(&hexSeed); err != nil {
		return nil
	}
	seed, _ := hex.DecodeString(hexSeed)
	return seed
}

func (d *DB) GetMnemonic() string {
	var mnemonic string
	row := d.db.QueryRow("SELECT mnemonic FROM seed WHERE id = ?", "id")
	row.Scan(&mnemonic)
	return mnemonic
}

func (d *DB) SaveOwnerPubkey(pubkey string) {
	d.db.Exec(`UPDATE seed SET owner_pubkey = ? WHERE id = ?`, pubkey, "id")
}

func (d *DB) GetOwnerPubkey() string {
	var pubkey string
	row := d.db.QueryRow("SELECT owner_pubkey FROM seed WHERE id = ?", "id")
	row.Scan(&pubkey)
	return pubkey
}

func (d *DB) SaveProofs(proofs cashu.Proofs) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, p := range proofs {
		Y := crypto.HashToCurve([]byte(p.Secret))
		yHex := hex.EncodeToString(Y.SerializeCompressed())

		var dleq []byte
		if p.DLEQ != nil {
			dleq, _ = json.Marshal(p.DLEQ)
		}

		if _, err := tx.Exec(`INSERT OR REPLACE INTO proofs (y, keyset_id, amount, secret, c, dleq) VALUES (?, ?, ?, ?, ?, ?)`,
			yHex, p.Id, p.Amount, p.Secret, p.C, dleq); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (d *DB) scanProofs(rows *sql.Rows) cashu.Proofs {
	defer rows.Close()
	var proofs cashu.Proofs
	for rows.Next() {
		var p cashu.Proof
		var y string
		var dleq []byte
		if err := rows.Scan(&y, &p.Id, &p.Amount, &p.Secret, &p.C, &dleq); err != nil {
			continue
		}
		if len(dleq) > 0 {
			var d cashu.DLEQProof
			if json.Unmarshal(dleq, &d) == nil {
				p.DLEQ = &d
			}
		}
		proofs = append(proofs, p)
	}
	return proofs
}

func (d *DB) GetProofs() cashu.Proofs {
	rows, err := d.db.Query("SELECT y, keyset_id, amount, secret, c, dleq FROM proofs")
	if err != nil {
		return nil
	}
	return d.scanProofs(rows)
}

func (d *DB) GetProofsByKeysetId(id string) cashu.Proofs {
	rows, err := d.db.Query("SELECT y, keyset_id, amount, secret, c, dleq FROM proofs WHERE keyset_id = ?", id)
	if err != nil {
		return nil
	}
	return d.scanProofs(rows)
}

func (d *DB) DeleteProof(secret string) error {
	_, err := d.db.Exec("DELETE FROM proofs WHERE secret = ?", secret)
	return err
}

func (d *DB) AddPendingProofs(proofs cashu.Proofs) error {
	return d.addPendingProofs(proofs, "")
}

func (d *DB) AddPendingProofsByQuoteId(proofs cashu.Proofs, quoteId string) error {
	return d.addPendingProofs(proofs, quoteId)
}

func (d *DB) addPendingProofs(proofs cashu.Proofs, quoteId string) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, p := range proofs {
		Y := crypto.HashToCurve([]byte(p.Secret))
		yHex := hex.EncodeToString(Y.SerializeCompressed())
		if _, err := tx.Exec(`INSERT OR REPLACE INTO pending_proofs (y, keyset_id, amount, secret, c, melt_quote_id) VALUES (?, ?, ?, ?, ?, ?)`,
			yHex, p.Id, p.Amount, p.Secret, p.C, quoteId); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (d *DB) scanDBProofs(rows *sql.Rows) []storage.DBProof {
	defer rows.Close()
	var proofs []storage.DBProof
	for rows.Next() {
		var p storage.DBProof
		if err := rows.Scan(&p.Y, &p.Id, &p.Amount, &p.Secret, &p.C, &p.MeltQuoteId); err != nil {
			continue
		}
		proofs = append(proofs, p)
	}
	return proofs
}

func (d *DB) GetPendingProofs() []storage.DBProof {
	rows, err := d.db.Query("SELECT y, keyset_id, amount, secret, c, melt_quote_id FROM pending_proofs")
	if err != nil {
		return nil
	}
	return d.scanDBProofs(rows)
}

func (d *DB) GetPendingProofsByQuoteId(quoteId string) []storage.DBProof {
	rows, err := d.db.Query("SELECT y, keyset_id, amount, secret, c, melt_quote_id FROM pending_proofs WHERE melt_quote_id = ?", quoteId)
	if err != nil {
		return nil
	}
	return d.scanDBProofs(rows)
}

func (d *DB) DeletePendingProofs(ys []string) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, y := range ys {
		if _, err := tx.Exec("DELETE FROM pending_proofs WHERE y = ?", y); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (d *DB) DeletePendingProofsByQuoteId(quoteId string) error {
	_, err := d.db.Exec("DELETE FROM pending_proofs WHERE melt_quote_id = ?", quoteId)
	return err
}

func (d *DB) SaveKeyset(ks *crypto.WalletKeyset) error {
	rawKeys := make(map[uint64]string, len(ks.PublicKeys))
	for amount, key := range ks.PublicKeys {
		rawKeys[amount] = hex.EncodeToString(key.SerializeCompressed())
	}
	keysJSON, err := json.Marshal(rawKeys)
	if err != nil {
		return err
	}

	_, err = d.db.Exec(`INSERT INTO keysets (id, mint_url, unit, active, public_keys, counter, input_fee_ppk)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(mint_url, id) DO UPDATE SET
			unit=excluded.unit, active=excluded.active, public_keys=excluded.public_keys,
			counter=excluded.counter, input_fee_ppk=excluded.input_fee_ppk`,
		ks.Id, ks.MintURL, ks.Unit, ks.Active, keysJSON, ks.Counter, ks.InputFeePpk)
	return err
}

func (d *DB) scanKeysets(rows *sql.Rows) []crypto.WalletKeyset {
	defer rows.Close()
	var keysets []crypto.WalletKeyset
	for rows.Next() {
		var ks crypto.WalletKeyset
		var keysJSON []byte
		if err := rows.Scan(&ks.Id, &ks.MintURL, &ks.Unit, &ks.Active, &keysJSON, &ks.Counter, &ks.InputFeePpk); err != nil {
			continue
		}
		var rawKeys map[uint64]string
		if json.Unmarshal(keysJSON, &rawKeys) == nil {
			ks.PublicKeys = make(map[uint64]*secp256k1.PublicKey, len(rawKeys))
			for amount, hexKey := range rawKeys {
				b, err := hex.DecodeString(hexKey)
				if err != nil {
					continue
				}
				pk, err := secp256k1.ParsePubKey(b)
				if err != nil {
					continue
				}
				ks.PublicKeys[amount] = pk
			}
		}
		keysets = append(keysets, ks)
	}
	return keysets
}

func (d *DB) GetKeysets() crypto.KeysetsMap {
	rows, err := d.db.Query("SELECT id, mint_url, unit, active, public_keys, counter, input_fee_ppk FROM keysets")
	if err != nil {
		return nil
	}
	keysets := d.scanKeysets(rows)

	out := make(crypto.KeysetsMap)
	for _, ks := range keysets {
		out[ks.MintURL] = append(out[ks.MintURL], ks)
	}
	return out
}

func (d *DB) GetKeyset(id string) *crypto.WalletKeyset {
	rows, err := d.db.Query("SELECT id, mint_url, unit, active, public_keys, counter, input_fee_ppk FROM keysets WHERE id = ?", id)
	if err != nil {
		return nil
	}
	keysets := d.scanKeysets(rows)
	if len(keysets) == 0 {
		return nil
	}
	return &keysets[0]
}

func (d *DB) IncrementKeysetCounter(id string, num uint32) error {
	result, err := d.db.Exec("UPDATE keysets SET counter = counter + ? WHERE id = ?", num, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("keyset '%s' does not exist", id)
	}
	return nil
}

func (d *DB) GetKeysetCounter(id string) uint32 {
	var counter uint32
	row := d.db.QueryRow("SELECT counter FROM keysets WHERE id = ?", id)
	row.Scan(&counter)
	return counter
}

func (d *DB) UpdateKeysetMintURL(oldURL, newURL string) error {
	_, err := d.db.Exec("UPDATE keysets SET mint_url = ? WHERE mint_url = ?", newURL, oldURL)
	return err
}

func (d *DB) SaveMintQuote(q storage.MintQuote) error {
	var privKey []byte
	if q.PrivateKey != nil {
		privKey = q.PrivateKey.Serialize()
	}
	_, err := d.db.Exec(`INSERT INTO mint_quotes
		(quote_id, mint, method, state, unit, payment_request, amount, created_at, settled_at, quote_expiry, private_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(quote_id) DO UPDATE SET state=excluded.state, settled_at=excluded.settled_at`,
		q.QuoteId, q.Mint, q.Method, q.State, q.Unit, q.PaymentRequest, q.Amount, q.CreatedAt, q.SettledAt, q.QuoteExpiry, privKey)
	return err
}

func (d *DB) scanMintQuotes(rows *sql.Rows) []storage.MintQuote {
	defer rows.Close()
	var quotes []storage.MintQuote
	for rows.Next() {
		var q storage.MintQuote
		var privKey []byte
		if err := rows.Scan(&q.QuoteId, &q.Mint, &q.Method, &q.State, &q.Unit, &q.PaymentRequest,
			&q.Amount, &q.CreatedAt, &q.SettledAt, &q.QuoteExpiry, &privKey); err != nil {
			continue
		}
		if len(privKey) > 0 {
			q.PrivateKey = secp256k1.PrivKeyFromBytes(privKey)
		}
		quotes = append(quotes, q)
	}
	return quotes
}

func (d *DB) GetMintQuotes() []storage.MintQuote {
	rows, err := d.db.Query(`SELECT quote_id, mint, method, state, unit, payment_request, amount, created_at, settled_at, quote_expiry, private_key FROM mint_quotes`)
	if err != nil {
		return nil
	}
	return d.scanMintQuotes(rows)
}

func (d *DB) GetMintQuoteById(id string) *storage.MintQuote {
	rows, err := d.db.Query(`SELECT quote_id, mint, method, state, unit, payment_request, amount, created_at, settled_at, quote_expiry, private_key FROM mint_quotes WHERE quote_id = ?`, id)
	if err != nil {
		return nil
	}
	quotes := d.scanMintQuotes(rows)
	if len(quotes) == 0 {
		return nil
	}
	return &quotes[0]
}

func (d *DB) SaveMeltQuote(q storage.MeltQuote) error {
	_, err := d.db.Exec(`INSERT INTO melt_quotes
		(quote_id, mint, method, state, unit, payment_request, amount, fee_reserve, preimage, created_at, settled_at, quote_expiry)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(quote_id) DO UPDATE SET state=excluded.state, preimage=excluded.preimage, settled_at=excluded.settled_at`,
		q.QuoteId, q.Mint, q.Method, q.State, q.Unit, q.PaymentRequest, q.Amount, q.FeeReserve, q.Preimage, q.CreatedAt, q.SettledAt, q.QuoteExpiry)
	return err
}

func (d *DB) scanMeltQuotes(rows *sql.Rows) []storage.MeltQuote {
	defer rows.Close()
	var quotes []storage.MeltQuote
	for rows.Next() {
		var q storage.MeltQuote
		if err := rows.Scan(&q.QuoteId, &q.Mint, &q.Method, &q.State, &q.Unit, &q.PaymentRequest,
			&q.Amount, &q.FeeReserve, &q.Preimage, &q.CreatedAt, &q.SettledAt, &q.QuoteExpiry); err != nil {
			continue
		}
		quotes = append(quotes, q)
	}
	return quotes
}

func (d *DB) GetMeltQuotes() []storage.MeltQuote {
	rows, err := d.db.Query(`SELECT quote_id, mint, method, state, unit, payment_request, amount, fee_reserve, preimage, created_at, settled_at, quote_expiry FROM melt_quotes`)
	if err != nil {
		return nil
	}
	return d.scanMeltQuotes(rows)
}

func (d *DB) GetMeltQuoteById(id string) *storage.MeltQuote {
	rows, err := d.db.Query(`SELECT quote_id, mint, method, state, unit, payment_request, amount, fee_reserve, preimage, created_at, settled_at, quote_expiry FROM melt_quotes WHERE quote_id = ?`, id)
	if err != nil {
		return nil
	}
	quotes := d.scanMeltQuotes(rows)
	if len(quotes) == 0 {
		return nil
	}
	return &quotes[0]
}

func (d *DB) SaveTransaction(t storage.Transaction) error {
	ys := ""
	if len(t.TokenProofYs) > 0 {
		b, err := json.Marshal(t.TokenProofYs)
		if err != nil {
			return err
		}
		ys = string(b)
	}

	_, err := d.db.Exec(`INSERT INTO transactions
		(id, kind, direction, status, mint, unit, amount, created_at, memo, info, token_proof_ys, token_string, payment_request, payment_hash, preimage, fee_paid, payment_expired)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status=excluded.status, amount=excluded.amount, preimage=excluded.preimage, payment_expired=excluded.payment_expired`,
		t.Id, t.Kind, t.Direction, t.Status, t.Mint, t.Unit, t.Amount, t.CreatedAt, t.Memo, t.Info, ys, t.TokenString, t.PaymentRequest, t.PaymentHash, t.Preimage, t.FeePaid, t.PaymentExpired)
	return err
}

const transactionColumns = `id, kind, direction, status, mint, unit, amount, created_at, memo, info, token_proof_ys, token_string, payment_request, payment_hash, preimage, fee_paid, payment_expired`

func (d *DB) scanTransactions(rows *sql.Rows) []storage.Transaction {
	defer rows.Close()
	var txns []storage.Transaction
	for rows.Next() {
		var t storage.Transaction
		var ys string
		if err := rows.Scan(&t.Id, &t.Kind, &t.Direction, &t.Status, &t.Mint, &t.Unit, &t.Amount, &t.CreatedAt,
			&t.Memo, &t.Info, &ys, &t.TokenString, &t.PaymentRequest, &t.PaymentHash, &t.Preimage, &t.FeePaid, &t.PaymentExpired); err != nil {
			continue
		}
		if ys != "" {
			json.Unmarshal([]byte(ys), &t.TokenProofYs)
		}
		txns = append(txns, t)
	}
	return txns
}

func (d *DB) GetTransactions() []storage.Transaction {
	rows, err := d.db.Query(`SELECT ` + transactionColumns + ` FROM transactions`)
	if err != nil {
		return nil
	}
	return d.scanTransactions(rows)
}

func (d *DB) GetPendingTransactions() []storage.Transaction {
	rows, err := d.db.Query(`SELECT `+transactionColumns+` FROM transactions WHERE status = ?`, storage.Pending)
	if err != nil {
		return nil
	}
	return d.scanTransactions(rows)
}

func (d *DB) GetTransactionById(id string) *storage.Transaction {
	rows, err := d.db.Query(`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	if err != nil {
		return nil
	}
	txns := d.scanTransactions(rows)
	if len(txns) == 0 {
		return nil
	}
	return &txns[0]
}

