package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dvloznov/ledger-core/internal/domain"
	"github.com/dvloznov/ledger-core/internal/policy"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultVelocityWindow is the trailing window the velocity rule counts over.
const DefaultVelocityWindow = 10 * time.Minute

const tracerName = "github.com/dvloznov/ledger-core/internal/ledger"

// Processor runs deposits, withdrawals and transfers. Each operation holds
// the locks of the accounts it touches and performs every read and write
// inside one unit of work: load accounts, evaluate risk, compute the fee,
// mutate balances, persist. Any failure leaves nothing behind.
type Processor struct {
	uow    UnitOfWork
	locker Locker
	fee    policy.FeePolicy
	rules  []policy.RiskRule
	window time.Duration
	now    domain.Clock
	log    zerolog.Logger
	tracer trace.Tracer
}

// Option configures a Processor.
type Option func(*Processor)

// WithClock sets the source of transaction and entry timestamps.
func WithClock(clock domain.Clock) Option {
	return func(p *Processor) { p.now = clock }
}

// WithVelocityWindow overrides DefaultVelocityWindow.
func WithVelocityWindow(d time.Duration) Option {
	return func(p *Processor) { p.window = d }
}

func WithLogger(log zerolog.Logger) Option {
	return func(p *Processor) { p.log = log }
}

// NewProcessor wires the core. Rules are evaluated in the order given.
func NewProcessor(uow UnitOfWork, locker Locker, fee policy.FeePolicy, rules []policy.RiskRule, opts ...Option) *Processor {
	if fee == nil {
		fee = policy.NoFee{}
	}
	p := &Processor{
		uow:    uow,
		locker: locker,
		fee:    fee,
		rules:  append([]policy.RiskRule(nil), rules...),
		window: DefaultVelocityWindow,
		now:    domain.SystemClock,
		log:    zerolog.Nop(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Deposit credits amount minus the fee to the account. The returned
// transaction carries the gross amount.
func (p *Processor) Deposit(ctx context.Context, accountID string, amount domain.Money) (*domain.Transaction, error) {
	ctx, span := p.start(ctx, "Deposit", accountID, amount)

	var (
		tx  *domain.Transaction
		fee domain.Money
	)
	err := p.run(ctx, []string{accountID}, amount, func(ctx context.Context, s Stores) error {
		acc, err := loadAccount(ctx, s, accountID)
		if err != nil {
			return err
		}

		now := p.now()
		if tx, err = domain.NewTransaction(domain.TransactionDeposit, amount, acc.Currency(), now); err != nil {
			return err
		}
		if err := p.checkRisk(ctx, s, accountID, amount, now); err != nil {
			return err
		}

		fee = p.fee.Calculate(amount)
		net := amount - fee
		if err := acc.Deposit(net); err != nil {
			return err
		}

		credit, err := domain.NewLedgerEntry(acc.ID(), tx.ID, domain.Credit, net, now)
		if err != nil {
			return err
		}
		return persist(ctx, s, tx, []*domain.Account{acc}, credit)
	})

	p.finish(span, "deposit", accountID, amount, fee, tx, err)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// Withdraw debits amount plus the fee. Funds are checked against the total.
func (p *Processor) Withdraw(ctx context.Context, accountID string, amount domain.Money) (*domain.Transaction, error) {
	ctx, span := p.start(ctx, "Withdraw", accountID, amount)

	var (
		tx  *domain.Transaction
		fee domain.Money
	)
	err := p.run(ctx, []string{accountID}, amount, func(ctx context.Context, s Stores) error {
		acc, err := loadAccount(ctx, s, accountID)
		if err != nil {
			return err
		}

		now := p.now()
		if tx, err = domain.NewTransaction(domain.TransactionWithdraw, amount, acc.Currency(), now); err != nil {
			return err
		}
		if err := p.checkRisk(ctx, s, accountID, amount, now); err != nil {
			return err
		}

		fee = p.fee.Calculate(amount)
		total, err := totalDebit(amount, fee)
		if err != nil {
			return err
		}
		if err := acc.Withdraw(total); err != nil {
			return err
		}

		debit, err := domain.NewLedgerEntry(acc.ID(), tx.ID, domain.Debit, total, now)
		if err != nil {
			return err
		}
		return persist(ctx, s, tx, []*domain.Account{acc}, debit)
	})

	p.finish(span, "withdraw", accountID, amount, fee, tx, err)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// Transfer debits amount plus the fee from the source and credits exactly
// amount to the destination. The fee is not credited anywhere. Risk is
// evaluated against the source account only.
func (p *Processor) Transfer(ctx context.Context, fromID, toID string, amount domain.Money) (*domain.Transaction, error) {
	ctx, span := p.start(ctx, "Transfer", fromID, amount)
	span.SetAttributes(attribute.String("ledger.to_account_id", toID))

	var (
		tx  *domain.Transaction
		fee domain.Money
	)
	err := func() error {
		if fromID == toID {
			return domain.ErrSameAccount
		}
		return p.run(ctx, []string{fromID, toID}, amount, func(ctx context.Context, s Stores) error {
			from, to, err := loadPair(ctx, s, fromID, toID)
			if err != nil {
				return err
			}
			if from.Currency() != to.Currency() {
				return fmt.Errorf("%w: %s and %s", domain.ErrCurrencyMismatch, from.Currency(), to.Currency())
			}

			now := p.now()
			if tx, err = domain.NewTransaction(domain.TransactionTransfer, amount, from.Currency(), now); err != nil {
				return err
			}
			if err := p.checkRisk(ctx, s, fromID, amount, now); err != nil {
				return err
			}

			fee = p.fee.Calculate(amount)
			total, err := totalDebit(amount, fee)
			if err != nil {
				return err
			}
			if err := from.Withdraw(total); err != nil {
				return err
			}
			if err := to.Deposit(amount); err != nil {
				return err
			}

			debit, err := domain.NewLedgerEntry(from.ID(), tx.ID, domain.Debit, total, now)
			if err != nil {
				return err
			}
			credit, err := domain.NewLedgerEntry(to.ID(), tx.ID, domain.Credit, amount, now)
			if err != nil {
				return err
			}
			return persist(ctx, s, tx, []*domain.Account{from, to}, debit, credit)
		})
	}()

	p.finish(span, "transfer", fromID, amount, fee, tx, err)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// RiskContext builds the activity snapshot for accountID as of now.
func RiskContext(ctx context.Context, s TransactionStore, accountID string, now time.Time, window time.Duration) (policy.RiskContext, error) {
	count, err := s.CountRecentByAccount(ctx, accountID, now.Add(-window))
	if err != nil {
		return policy.RiskContext{}, fmt.Errorf("RiskContext: counting recent transactions: %w", err)
	}
	total, err := s.SumDailyByAccount(ctx, accountID, StartOfDay(now))
	if err != nil {
		return policy.RiskContext{}, fmt.Errorf("RiskContext: summing daily total: %w", err)
	}
	return policy.RiskContext{RecentTransactionCount: count, DailyTotal: total}, nil
}

// StartOfDay returns 00:00 UTC of t's UTC date.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (p *Processor) run(ctx context.Context, keys []string, amount domain.Money, fn func(ctx context.Context, s Stores) error) error {
	if amount <= 0 {
		return fmt.Errorf("%w: %s", domain.ErrInvalidAmount, amount)
	}
	return p.locker.WithLock(ctx, keys, func(ctx context.Context) error {
		return p.uow.WithinTx(ctx, fn)
	})
}

func (p *Processor) checkRisk(ctx context.Context, s Stores, accountID string, amount domain.Money, now time.Time) error {
	if len(p.rules) == 0 {
		return nil
	}
	rc, err := RiskContext(ctx, s.Transactions, accountID, now, p.window)
	if err != nil {
		return err
	}
	return policy.Evaluate(p.rules, amount, rc)
}

func loadAccount(ctx context.Context, s Stores, id string) (*domain.Account, error) {
	acc, err := s.Accounts.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading account %s: %w", id, err)
	}
	if acc == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, id)
	}
	return acc, nil
}

// loadPair reads both accounts in ascending id order so that row locks are
// always taken in the same order, then reports a missing source before a
// missing destination.
func loadPair(ctx context.Context, s Stores, fromID, toID string) (*domain.Account, *domain.Account, error) {
	ids := []string{fromID, toID}
	if toID < fromID {
		ids = []string{toID, fromID}
	}
	loaded := make(map[string]*domain.Account, 2)
	for _, id := range ids {
		acc, err := s.Accounts.GetByID(ctx, id)
		if err != nil {
			return nil, nil, fmt.Errorf("loading account %s: %w", id, err)
		}
		loaded[id] = acc
	}
	from, to := loaded[fromID], loaded[toID]
	if from == nil {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, fromID)
	}
	if to == nil {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, toID)
	}
	return from, to, nil
}

func totalDebit(amount, fee domain.Money) (domain.Money, error) {
	if fee > math.MaxInt64-amount {
		return 0, fmt.Errorf("%w: %s plus fee %s overflows", domain.ErrInvalidAmount, amount, fee)
	}
	return amount + fee, nil
}

func persist(ctx context.Context, s Stores, tx *domain.Transaction, accounts []*domain.Account, entries ...*domain.LedgerEntry) error {
	if err := tx.Approve(); err != nil {
		return err
	}
	for _, acc := range accounts {
		if _, err := s.Accounts.Update(ctx, acc); err != nil {
			return fmt.Errorf("updating account %s: %w", acc.ID(), err)
		}
	}
	if _, err := s.Transactions.Save(ctx, tx); err != nil {
		return fmt.Errorf("saving transaction %s: %w", tx.ID, err)
	}
	for _, e := range entries {
		if _, err := s.Ledger.Save(ctx, e); err != nil {
			return fmt.Errorf("saving ledger entry for account %s: %w", e.AccountID, err)
		}
	}
	return nil
}

func (p *Processor) start(ctx context.Context, op, accountID string, amount domain.Money) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "ledger."+op, trace.WithAttributes(
		attribute.String("ledger.account_id", accountID),
		attribute.String("ledger.amount", amount.String()),
	))
}

func (p *Processor) finish(span trace.Span, op, accountID string, amount, fee domain.Money, tx *domain.Transaction, err error) {
	defer span.End()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		ev := p.log.Warn()
		if domain.KindOf(err) == domain.KindInternal {
			ev = p.log.Error()
		}
		var rr *domain.RiskRejectedError
		if errors.As(err, &rr) {
			ev = ev.Str("rule", rr.Rule)
		}
		ev.Err(err).
			Str("operation", op).
			Str("account_id", accountID).
			Str("amount", amount.String()).
			Msg("Operation rejected")
		return
	}

	span.SetAttributes(
		attribute.String("ledger.transaction_id", tx.ID),
		attribute.String("ledger.fee", fee.String()),
	)
	p.log.Info().
		Str("operation", op).
		Str("transaction_id", tx.ID).
		Str("account_id", accountID).
		Str("amount", amount.String()).
		Str("fee", fee.String()).
		Msg("Operation approved")
}
