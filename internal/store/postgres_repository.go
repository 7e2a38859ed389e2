/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * related to payments, ledger transactions, escrow accounts, payout methods, and
 * the contract/milestone read model.
 *
 * @notes
 * - Balance mutations use row locks (`SELECT ... FOR UPDATE`) or conditional
 *   updates so that concurrent releases and payouts serialize per account.
 * - The release-once guarantee lives inside a single database transaction: the
 *   duplicate-transfer check and the balance credit see the same locked row.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gigvault/escrow-service/internal/domain"
)

var (
	ErrContractNotFound          = errors.New("contract not found")
	ErrMilestoneNotFound         = errors.New("milestone not found")
	ErrPaymentNotFound           = errors.New("payment not found")
	ErrAccountNotFound           = errors.New("escrow account not found")
	ErrEscrowAccountExists       = errors.New("escrow account already exists")
	ErrPayoutMethodNotFound      = errors.New("payout method not found")
	ErrInsufficientBalance       = errors.New("insufficient escrow balance")
	ErrDuplicateMilestonePayment = errors.New("a payment already covers this milestone")
	ErrReleaseAlreadyDone        = errors.New("escrow already released for this payment")
	ErrDuplicateChargeRecord     = errors.New("charge transaction already recorded for this payment")
)

const uniqueViolationCode = "23505"

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

// UpsertContract inserts or refreshes one contract in the read model.
func (r *PostgresRepository) UpsertContract(ctx context.Context, contract *domain.Contract) error {
	query := `
		INSERT INTO contracts (id, proposal_id, client_id, freelancer_id, total_amount, currency, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (id) DO UPDATE SET
			proposal_id = EXCLUDED.proposal_id,
			client_id = EXCLUDED.client_id,
			freelancer_id = EXCLUDED.freelancer_id,
			total_amount = EXCLUDED.total_amount,
			currency = EXCLUDED.currency,
			status = EXCLUDED.status,
			updated_at = now()`
	_, err := r.db.Exec(ctx, query,
		contract.ID, contract.ProposalID, contract.ClientID, contract.FreelancerID,
		contract.TotalAmount, contract.Currency, contract.Status)
	return err
}

// UpsertMilestone inserts or refreshes one milestone in the read model.
// Payment-driven statuses (payment_pending, paid) are never downgraded by a
// replayed contract event: a stale `approved` upsert keeps the local status.
func (r *PostgresRepository) UpsertMilestone(ctx context.Context, milestone *domain.Milestone) error {
	query := `
		INSERT INTO milestones (id, contract_id, title, amount, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			amount = EXCLUDED.amount,
			status = CASE
				WHEN milestones.status IN ('payment_pending', 'paid') AND EXCLUDED.status = 'approved'
					THEN milestones.status
				ELSE EXCLUDED.status
			END,
			updated_at = now()`
	_, err := r.db.Exec(ctx, query,
		milestone.ID, milestone.ContractID, milestone.Title, milestone.Amount, milestone.Status)
	return err
}

// FindContractByID retrieves one contract from the read model.
func (r *PostgresRepository) FindContractByID(ctx context.Context, contractID uuid.UUID) (*domain.Contract, error) {
	var c domain.Contract
	query := `SELECT id, proposal_id, client_id, freelancer_id, total_amount, currency, status, updated_at
		FROM contracts WHERE id = $1`
	err := r.db.QueryRow(ctx, query, contractID).Scan(
		&c.ID, &c.ProposalID, &c.ClientID, &c.FreelancerID, &c.TotalAmount, &c.Currency, &c.Status, &c.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrContractNotFound
		}
		return nil, err
	}
	return &c, nil
}

// FindMilestoneByID retrieves one milestone from the read model.
func (r *PostgresRepository) FindMilestoneByID(ctx context.Context, milestoneID uuid.UUID) (*domain.Milestone, error) {
	var m domain.Milestone
	query := `SELECT id, contract_id, title, amount, status, updated_at FROM milestones WHERE id = $1`
	err := r.db.QueryRow(ctx, query, milestoneID).Scan(&m.ID, &m.ContractID, &m.Title, &m.Amount, &m.Status, &m.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrMilestoneNotFound
		}
		return nil, err
	}
	return &m, nil
}

// TransitionMilestoneStatus applies a compare-and-set status transition.
func (r *PostgresRepository) TransitionMilestoneStatus(ctx context.Context, milestoneID uuid.UUID, fromStatus, toStatus string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE milestones SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`,
		toStatus, milestoneID, fromStatus)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CreatePayment inserts a new payment row. A partial unique index over
// (contract_id, milestone_id) for non-terminal milestone payments rejects a
// second concurrent charge for the same milestone.
func (r *PostgresRepository) CreatePayment(ctx context.Context, payment *domain.Payment) error {
	query := `
		INSERT INTO payments (
			id, contract_id, milestone_id, client_id, freelancer_id, type, status,
			amount, platform_fee, freelancer_amount, currency,
			external_intent_id, external_transfer_id, description, failure_reason,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, now(), now())
		RETURNING created_at, updated_at`
	err := r.db.QueryRow(ctx, query,
		payment.ID, payment.ContractID, payment.MilestoneID, payment.ClientID, payment.FreelancerID,
		payment.Type, payment.Status,
		payment.Amount, payment.PlatformFee, payment.FreelancerAmount, payment.Currency,
		payment.ExternalIntentID, payment.ExternalTransferID, payment.Description, payment.FailureReason,
	).Scan(&payment.CreatedAt, &payment.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateMilestonePayment
		}
		return err
	}
	return nil
}

const paymentColumns = `id, contract_id, milestone_id, client_id, freelancer_id, type, status,
	amount, platform_fee, freelancer_amount, currency,
	external_intent_id, external_transfer_id, description, failure_reason, created_at, updated_at`

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(
		&p.ID, &p.ContractID, &p.MilestoneID, &p.ClientID, &p.FreelancerID, &p.Type, &p.Status,
		&p.Amount, &p.PlatformFee, &p.FreelancerAmount, &p.Currency,
		&p.ExternalIntentID, &p.ExternalTransferID, &p.Description, &p.FailureReason,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// FindPaymentByID retrieves a payment by its primary key.
func (r *PostgresRepository) FindPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments WHERE id = $1`, paymentColumns)
	p, err := scanPayment(r.db.QueryRow(ctx, query, paymentID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return p, nil
}

// FindPaymentByExternalIntentID retrieves a payment by the processor's intent handle.
func (r *PostgresRepository) FindPaymentByExternalIntentID(ctx context.Context, externalIntentID string) (*domain.Payment, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments WHERE external_intent_id = $1`, paymentColumns)
	p, err := scanPayment(r.db.QueryRow(ctx, query, externalIntentID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return p, nil
}

// SetPaymentProcessing records the external intent id and moves the payment to processing.
func (r *PostgresRepository) SetPaymentProcessing(ctx context.Context, paymentID uuid.UUID, externalIntentID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE payments SET external_intent_id = $1, status = 'processing', updated_at = now()
		 WHERE id = $2 AND status = 'pending'`,
		externalIntentID, paymentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// MarkPaymentCompleted performs the conditional processing -> completed
// transition. A false result with no error means the payment was already in a
// terminal state, which callers treat as an idempotent replay.
func (r *PostgresRepository) MarkPaymentCompleted(ctx context.Context, paymentID uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE payments SET status = 'completed', failure_reason = NULL, updated_at = now()
		 WHERE id = $1 AND status = 'processing'`,
		paymentID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkPaymentFailed moves a non-terminal payment to failed with a reason.
func (r *PostgresRepository) MarkPaymentFailed(ctx context.Context, paymentID uuid.UUID, failureReason string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE payments SET status = 'failed', failure_reason = $1, updated_at = now()
		 WHERE id = $2 AND status IN ('pending', 'processing')`,
		failureReason, paymentID)
	return err
}

// MarkPaymentRefunded performs the conditional completed -> refunded transition.
func (r *PostgresRepository) MarkPaymentRefunded(ctx context.Context, paymentID uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE payments SET status = 'refunded', updated_at = now()
		 WHERE id = $1 AND status = 'completed'`,
		paymentID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SetPaymentExternalTransferID records the processor transfer handle on a payment.
func (r *PostgresRepository) SetPaymentExternalTransferID(ctx context.Context, paymentID uuid.UUID, externalTransferID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE payments SET external_transfer_id = $1, updated_at = now() WHERE id = $2`,
		externalTransferID, paymentID)
	return err
}

// ListPaymentsByUser returns one page of payments where the user is either the
// paying client or the receiving freelancer, newest first, with the total count.
func (r *PostgresRepository) ListPaymentsByUser(ctx context.Context, userID uuid.UUID, opts domain.PaymentHistoryOptions) ([]domain.Payment, int64, error) {
	conditions := []string{`(client_id = $1 OR freelancer_id = $1)`}
	args := []interface{}{userID}
	if opts.Status != "" {
		args = append(args, opts.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if opts.Type != "" {
		args = append(args, opts.Type)
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}
	where := strings.Join(conditions, " AND ")

	var total int64
	countQuery := fmt.Sprintf(`SELECT count(*) FROM payments WHERE %s`, where)
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := opts.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	page := opts.Page
	if page < 1 {
		page = 1
	}
	args = append(args, limit, (page-1)*limit)
	query := fmt.Sprintf(`SELECT %s FROM payments WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		paymentColumns, where, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, 0, err
		}
		payments = append(payments, *p)
	}
	return payments, total, rows.Err()
}

// CreateTransaction appends one ledger row. A partial unique index on
// (payment_id) for charge rows makes a second charge record for the same
// payment impossible at the schema level.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, txn *domain.Transaction) error {
	query := `
		INSERT INTO transactions (id, payment_id, type, amount, currency, status,
			external_transaction_id, description, account_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		RETURNING created_at`
	err := r.db.QueryRow(ctx, query,
		txn.ID, txn.PaymentID, txn.Type, txn.Amount, txn.Currency, txn.Status,
		txn.ExternalTransactionID, txn.Description, txn.AccountID,
	).Scan(&txn.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateChargeRecord
		}
		return err
	}
	return nil
}

// ListTransactionsByPayment returns the ledger rows for one payment, oldest first.
func (r *PostgresRepository) ListTransactionsByPayment(ctx context.Context, paymentID uuid.UUID) ([]domain.Transaction, error) {
	query := `SELECT id, payment_id, type, amount, currency, status,
			external_transaction_id, description, account_id, created_at
		FROM transactions WHERE payment_id = $1 ORDER BY created_at ASC`
	rows, err := r.db.Query(ctx, query, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(&t.ID, &t.PaymentID, &t.Type, &t.Amount, &t.Currency, &t.Status,
			&t.ExternalTransactionID, &t.Description, &t.AccountID, &t.CreatedAt); err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// CreateEscrowAccount inserts the account; the unique constraint on user_id
// enforces one escrow account per user.
func (r *PostgresRepository) CreateEscrowAccount(ctx context.Context, account *domain.EscrowAccount) error {
	query := `
		INSERT INTO escrow_accounts (id, user_id, external_account_id, status, balance, currency, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING created_at, updated_at`
	err := r.db.QueryRow(ctx, query,
		account.ID, account.UserID, account.ExternalAccountID, account.Status, account.Balance, account.Currency,
	).Scan(&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEscrowAccountExists
		}
		return err
	}
	return nil
}

const escrowAccountColumns = `id, user_id, external_account_id, status, balance, currency, created_at, updated_at`

func scanEscrowAccount(row pgx.Row) (*domain.EscrowAccount, error) {
	var a domain.EscrowAccount
	err := row.Scan(&a.ID, &a.UserID, &a.ExternalAccountID, &a.Status, &a.Balance, &a.Currency, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// FindEscrowAccountByUserID retrieves a user's escrow account.
func (r *PostgresRepository) FindEscrowAccountByUserID(ctx context.Context, userID uuid.UUID) (*domain.EscrowAccount, error) {
	query := fmt.Sprintf(`SELECT %s FROM escrow_accounts WHERE user_id = $1`, escrowAccountColumns)
	a, err := scanEscrowAccount(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return a, nil
}

// FindEscrowAccountByID retrieves an escrow account by its primary key.
func (r *PostgresRepository) FindEscrowAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.EscrowAccount, error) {
	query := fmt.Sprintf(`SELECT %s FROM escrow_accounts WHERE id = $1`, escrowAccountColumns)
	a, err := scanEscrowAccount(r.db.QueryRow(ctx, query, accountID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return a, nil
}

// ActivateEscrowAccount flips a pending account to active once processor
// onboarding is reported complete.
func (r *PostgresRepository) ActivateEscrowAccount(ctx context.Context, accountID uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`UPDATE escrow_accounts SET status = 'active', updated_at = now() WHERE id = $1 AND status = 'pending'`,
		accountID)
	return err
}

// ReleaseEscrow credits the freelancer's balance and appends the transfer
// ledger row atomically. The duplicate check runs after the account row is
// locked, so two concurrent releases for the same payment serialize and the
// second one fails with ErrReleaseAlreadyDone.
func (r *PostgresRepository) ReleaseEscrow(ctx context.Context, paymentID, accountID uuid.UUID, amount int64, txn *domain.Transaction) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var balance int64
	err = tx.QueryRow(ctx, `SELECT balance FROM escrow_accounts WHERE id = $1 FOR UPDATE`, accountID).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}

	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM transactions WHERE payment_id = $1 AND type = 'transfer')`,
		paymentID).Scan(&exists)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, ErrReleaseAlreadyDone
	}

	newBalance := balance + amount
	if _, err := tx.Exec(ctx,
		`UPDATE escrow_accounts SET balance = $1, updated_at = now() WHERE id = $2`,
		newBalance, accountID); err != nil {
		return 0, err
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO transactions (id, payment_id, type, amount, currency, status,
			external_transaction_id, description, account_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		RETURNING created_at`,
		txn.ID, txn.PaymentID, txn.Type, txn.Amount, txn.Currency, txn.Status,
		txn.ExternalTransactionID, txn.Description, txn.AccountID,
	).Scan(&txn.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrReleaseAlreadyDone
		}
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return newBalance, nil
}

// DebitEscrowBalance performs the pessimistic payout debit. The row lock plus
// balance check guarantee two concurrent payouts cannot both succeed when
// their combined amount exceeds the balance.
func (r *PostgresRepository) DebitEscrowBalance(ctx context.Context, accountID uuid.UUID, amount int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var balance int64
	err = tx.QueryRow(ctx, `SELECT balance FROM escrow_accounts WHERE id = $1 FOR UPDATE`, accountID).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrAccountNotFound
		}
		return err
	}

	if balance < amount {
		return ErrInsufficientBalance
	}

	if _, err := tx.Exec(ctx,
		`UPDATE escrow_accounts SET balance = balance - $1, updated_at = now() WHERE id = $2`,
		amount, accountID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// CreditEscrowBalance adds funds back to an account (payout failure reversal).
func (r *PostgresRepository) CreditEscrowBalance(ctx context.Context, accountID uuid.UUID, amount int64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE escrow_accounts SET balance = balance + $1, updated_at = now() WHERE id = $2`,
		amount, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// CreatePayoutMethod inserts a payout method. When the new method is the
// default, all other defaults on the account are cleared in the same database
// transaction, so exactly one default exists at any time.
func (r *PostgresRepository) CreatePayoutMethod(ctx context.Context, method *domain.PayoutMethod) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if method.IsDefault {
		if _, err := tx.Exec(ctx,
			`UPDATE payout_methods SET is_default = false WHERE account_id = $1 AND is_default = true`,
			method.AccountID); err != nil {
			return err
		}
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO payout_methods (id, account_id, type, external_method_id, brand, last4, is_default, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		RETURNING created_at`,
		method.ID, method.AccountID, method.Type, method.ExternalMethodID,
		method.Brand, method.Last4, method.IsDefault, method.Status,
	).Scan(&method.CreatedAt)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// FindPayoutMethodByID retrieves a payout method scoped to its owning account.
func (r *PostgresRepository) FindPayoutMethodByID(ctx context.Context, methodID, accountID uuid.UUID) (*domain.PayoutMethod, error) {
	var m domain.PayoutMethod
	query := `SELECT id, account_id, type, external_method_id, brand, last4, is_default, status, created_at
		FROM payout_methods WHERE id = $1 AND account_id = $2`
	err := r.db.QueryRow(ctx, query, methodID, accountID).Scan(
		&m.ID, &m.AccountID, &m.Type, &m.ExternalMethodID, &m.Brand, &m.Last4, &m.IsDefault, &m.Status, &m.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPayoutMethodNotFound
		}
		return nil, err
	}
	return &m, nil
}

// ListPayoutMethodsByAccount returns an account's payout methods, default first.
func (r *PostgresRepository) ListPayoutMethodsByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.PayoutMethod, error) {
	query := `SELECT id, account_id, type, external_method_id, brand, last4, is_default, status, created_at
		FROM payout_methods WHERE account_id = $1 ORDER BY is_default DESC, created_at ASC`
	rows, err := r.db.Query(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var methods []domain.PayoutMethod
	for rows.Next() {
		var m domain.PayoutMethod
		if err := rows.Scan(&m.ID, &m.AccountID, &m.Type, &m.ExternalMethodID, &m.Brand, &m.Last4,
			&m.IsDefault, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		methods = append(methods, m)
	}
	return methods, rows.Err()
}

// ListMilestoneSumMismatches finds contracts whose milestone amounts do not
// add up to the stored contract total.
func (r *PostgresRepository) ListMilestoneSumMismatches(ctx context.Context) ([]MilestoneSumMismatch, error) {
	query := `
		SELECT c.id, c.total_amount, COALESCE(sum(m.amount), 0) AS milestone_sum
		FROM contracts c
		LEFT JOIN milestones m ON m.contract_id = c.id
		GROUP BY c.id, c.total_amount
		HAVING c.total_amount <> COALESCE(sum(m.amount), 0)`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mismatches []MilestoneSumMismatch
	for rows.Next() {
		var m MilestoneSumMismatch
		if err := rows.Scan(&m.ContractID, &m.ContractTotal, &m.MilestoneSum); err != nil {
			return nil, err
		}
		mismatches = append(mismatches, m)
	}
	return mismatches, rows.Err()
}

// ListOrphanedMilestones finds milestones referencing a contract the read
// model has never seen.
func (r *PostgresRepository) ListOrphanedMilestones(ctx context.Context) ([]domain.Milestone, error) {
	query := `
		SELECT m.id, m.contract_id, m.title, m.amount, m.status, m.updated_at
		FROM milestones m
		LEFT JOIN contracts c ON c.id = m.contract_id
		WHERE c.id IS NULL`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var milestones []domain.Milestone
	for rows.Next() {
		var m domain.Milestone
		if err := rows.Scan(&m.ID, &m.ContractID, &m.Title, &m.Amount, &m.Status, &m.UpdatedAt); err != nil {
			return nil, err
		}
		milestones = append(milestones, m)
	}
	return milestones, rows.Err()
}

// ListLedgerImbalances compares each account's stored balance against the
// balance derived from its ledger: transfer credits minus transfer_out debits.
func (r *PostgresRepository) ListLedgerImbalances(ctx context.Context) ([]LedgerImbalance, error) {
	query := `
		SELECT a.id, a.user_id, a.balance,
			COALESCE(sum(CASE t.type WHEN 'transfer' THEN t.amount WHEN 'transfer_out' THEN -t.amount ELSE 0 END), 0) AS derived
		FROM escrow_accounts a
		LEFT JOIN transactions t ON t.account_id = a.id AND t.type IN ('transfer', 'transfer_out')
		GROUP BY a.id, a.user_id, a.balance
		HAVING a.balance <> COALESCE(sum(CASE t.type WHEN 'transfer' THEN t.amount WHEN 'transfer_out' THEN -t.amount ELSE 0 END), 0)`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var imbalances []LedgerImbalance
	for rows.Next() {
		var li LedgerImbalance
		if err := rows.Scan(&li.AccountID, &li.UserID, &li.StoredBalance, &li.DerivedBalance); err != nil {
			return nil, err
		}
		imbalances = append(imbalances, li)
	}
	return imbalances, rows.Err()
}

// ListFeeSplitViolations finds payments whose fee split no longer satisfies
// freelancer_amount + platform_fee = amount. The CHECK constraint should make
// this impossible; the query exists to catch rows written before it existed.
func (r *PostgresRepository) ListFeeSplitViolations(ctx context.Context) ([]domain.Payment, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments WHERE freelancer_amount + platform_fee <> amount`, paymentColumns)
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}
