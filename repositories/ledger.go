package repositories

import (
	"campus-sync/domain/ledger"
	"campus-sync/errors"
	"context"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

type ILedgerRepository interface {
	SaveAccount(account ledger.Account) error
	Record(transaction ledger.Transaction) (ledger.Account, bool, error)
	LoadLedger(ctx context.Context, accountID string) (ledger.Snapshot, error)
	ListAccounts() ([]ledger.Account, error)
	ListTransactions(accountID string, cursor *string) ([]ledger.Transaction, *string, error)
}

// LedgerRepository stores accounts and their transactions in BadgerDB.
// Values are protobuf encoded structs carrying the same row shape the change
// feed publishes.
type LedgerRepository struct {
	db                *badger.DB
	log               *slog.Logger
	limitTransactions *int
}

func NewLedgerRepository(db *badger.DB, log *slog.Logger, limitTransactions *int) LedgerRepository {
	return LedgerRepository{db: db, log: log, limitTransactions: limitTransactions}
}

func accountKey(id string) []byte {
	return []byte("acc:" + id)
}

// transactionKey is formatted as "tx:{account_id}:{timestamp_padded}:{id}"
// so a reverse prefix scan yields the most recent transactions first. The id
// disambiguates transactions occurring at the same nanosecond.
func transactionKey(t ledger.Transaction) []byte {
	return []byte(fmt.Sprintf("tx:%s:%019d:%s", t.AccountID, t.OccurredAt.UnixNano(), t.ID))
}

func transactionIndexKey(accountID, id string) []byte {
	return []byte(fmt.Sprintf("txid:%s:%s", accountID, id))
}

func (r LedgerRepository) SaveAccount(account ledger.Account) error {
	bytes, err := encodeRow(ledger.AccountPayload(account))
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(accountKey(account.ID), bytes)
	})
}

// Record stores transaction and moves the account balance accordingly, in
// one badger transaction. Recording an id twice is a no-op reported with
// recorded=false.
func (r LedgerRepository) Record(transaction ledger.Transaction) (account ledger.Account, recorded bool, err error) {
	err = r.db.Update(func(txn *badger.Txn) error {
		var err error
		account, err = getAccount(txn, transaction.AccountID)
		if err != nil {
			return err
		}
		if _, err = txn.Get(transactionIndexKey(transaction.AccountID, transaction.ID)); err == nil {
			r.log.Debug("Transaction already recorded", "transaction_id", transaction.ID)
			return nil
		}
		switch transaction.Kind {
		case ledger.Credit:
			account.Balance = account.Balance.Add(transaction.Amount)
		case ledger.Debit:
			account.Balance = account.Balance.Sub(transaction.Amount)
		default:
			return fmt.Errorf("%w: transaction kind %q", errors.ErrInvalidPayload, transaction.Kind)
		}
		txBytes, err := encodeRow(ledger.TransactionPayload(transaction))
		if err != nil {
			return err
		}
		accBytes, err := encodeRow(ledger.AccountPayload(account))
		if err != nil {
			return err
		}
		if err = txn.Set(transactionKey(transaction), txBytes); err != nil {
			return err
		}
		if err = txn.Set(transactionIndexKey(transaction.AccountID, transaction.ID), transactionKey(transaction)); err != nil {
			return err
		}
		if err = txn.Set(accountKey(account.ID), accBytes); err != nil {
			return err
		}
		recorded = true
		return nil
	})
	return account, recorded, err
}

// LoadLedger is the bulk read of an account and its whole history.
func (r LedgerRepository) LoadLedger(ctx context.Context, accountID string) (ledger.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Snapshot{}, err
	}
	var snapshot ledger.Snapshot
	err := r.db.View(func(txn *badger.Txn) error {
		account, err := getAccount(txn, accountID)
		if err != nil {
			return err
		}
		snapshot.Account = account
		snapshot.Transactions, _, err = scanTransactions(txn, accountID, nil, nil)
		return err
	})
	return snapshot, err
}

func (r LedgerRepository) ListAccounts() ([]ledger.Account, error) {
	var accounts []ledger.Account
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte("acc:")
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var row map[string]any
			err := it.Item().Value(func(value []byte) error {
				var err error
				row, err = decodeRow(value)
				return err
			})
			if err != nil {
				return err
			}
			account, err := accountFromRow(row)
			if err != nil {
				return err
			}
			accounts = append(accounts, account)
		}
		return nil
	})
	return accounts, err
}

// ListTransactions pages through the history of accountID, most recent
// first. The returned cursor resumes after the last transaction returned.
func (r LedgerRepository) ListTransactions(accountID string, cursor *string) ([]ledger.Transaction, *string, error) {
	var transactions []ledger.Transaction
	var lastKey *string
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		transactions, lastKey, err = scanTransactions(txn, accountID, cursor, r.limitTransactions)
		return err
	})
	return transactions, lastKey, err
}

func scanTransactions(txn *badger.Txn, accountID string, cursor *string, limit *int) ([]ledger.Transaction, *string, error) {
	prefixStr := fmt.Sprintf("tx:%s:", accountID)
	prefix := []byte(prefixStr)
	options := badger.DefaultIteratorOptions
	options.Reverse = true
	it := txn.NewIterator(options)
	defer it.Close()

	var seekKey []byte
	switch cursor {
	case nil:
		// Highest possible timestamp, then walk back in time
		seekKey = append([]byte(prefixStr), []byte("9999999999999999999~")...)
	default:
		seekKey = append([]byte(prefixStr), []byte(*cursor)...)
	}
	it.Seek(seekKey)
	if cursor != nil && it.ValidForPrefix(prefix) {
		it.Next()
	}

	var transactions []ledger.Transaction
	var lastKey string
	for ; it.ValidForPrefix(prefix); it.Next() {
		if limit != nil && len(transactions) == *limit {
			break
		}
		item := it.Item()
		lastKey = string(item.Key()[len(prefix):])
		var row map[string]any
		err := item.Value(func(value []byte) error {
			var err error
			row, err = decodeRow(value)
			return err
		})
		if err != nil {
			return nil, nil, err
		}
		transaction, err := ledger.DecodeTransaction(row)
		if err != nil {
			return nil, nil, err
		}
		transactions = append(transactions, transaction)
	}
	return transactions, lo.ToPtr(lastKey), nil
}

func getAccount(txn *badger.Txn, id string) (ledger.Account, error) {
	item, err := txn.Get(accountKey(id))
	if err == badger.ErrKeyNotFound {
		return ledger.Account{}, fmt.Errorf("%w: account %s", errors.ErrNotFound, id)
	}
	if err != nil {
		return ledger.Account{}, err
	}
	var row map[string]any
	err = item.Value(func(value []byte) error {
		row, err = decodeRow(value)
		return err
	})
	if err != nil {
		return ledger.Account{}, err
	}
	return accountFromRow(row)
}

func accountFromRow(row map[string]any) (ledger.Account, error) {
	balance, err := ledger.ParseMoney(row["balance"])
	if err != nil {
		return ledger.Account{}, err
	}
	id, _ := row["id"].(string)
	name, _ := row["display_name"].(string)
	return ledger.Account{ID: id, DisplayName: name, Balance: balance}, nil
}

func encodeRow(row map[string]any) ([]byte, error) {
	s, err := structpb.NewStruct(row)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err)
	}
	return proto.Marshal(s)
}

func decodeRow(value []byte) (map[string]any, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(value, &s); err != nil {
		return nil, err
	}
	return s.AsMap(), nil
}
