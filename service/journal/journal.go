package journal

import (
	"context"
	"time"

	"PRealtime/tools/errs"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type Kind string

const (
	KindOpen     Kind = "open"
	KindRegister Kind = "register"
	KindLogout   Kind = "logout"
	KindClose    Kind = "close"
)

// Entry 一条会话流水
type Entry struct {
	ConnID string
	UserID string
	Kind   Kind
	At     time.Time
}

//go:generate mockgen -source=journal.go -destination=../../mocks/mock_journal.go -package=mocks Journal

// Journal 会话流水；Record 不阻塞调用方
type Journal interface {
	Record(ctx context.Context, e Entry)
}

// Execer 是 pgxpool.Pool 用到的部分
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const schema = `CREATE TABLE IF NOT EXISTS presence_journal (
	id         BIGSERIAL PRIMARY KEY,
	node       TEXT        NOT NULL,
	conn_id    TEXT        NOT NULL,
	user_id    TEXT        NOT NULL DEFAULT '',
	kind       TEXT        NOT NULL,
	at         TIMESTAMPTZ NOT NULL
)`

const insertSQL = `INSERT INTO presence_journal (node, conn_id, user_id, kind, at) VALUES ($1, $2, $3, $4, $5)`

// Open 建连接池并确认可达
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errs.WrapMsg(err, "pgxpool.New")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errs.ErrExternal.WrapMsg("postgres ping", "err", err)
	}
	return pool, nil
}

// PgJournal 异步写 Postgres；队列满时丢弃并告警
type PgJournal struct {
	db   Execer
	node string
	log  *zap.Logger
	ch   chan Entry
	now  func() time.Time
}

func NewPgJournal(db Execer, node string, buffer int, log *zap.Logger) *PgJournal {
	if buffer <= 0 {
		buffer = 1024
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PgJournal{db: db, node: node, log: log.Named("journal"), ch: make(chan Entry, buffer), now: time.Now}
}

func (j *PgJournal) EnsureSchema(ctx context.Context) error {
	if _, err := j.db.Exec(ctx, schema); err != nil {
		return errs.ErrExternal.WrapMsg("create presence_journal", "err", err)
	}
	return nil
}

func (j *PgJournal) Record(_ context.Context, e Entry) {
	if e.At.IsZero() {
		e.At = j.now()
	}
	select {
	case j.ch <- e:
	default:
		j.log.Warn("journal queue full, entry dropped",
			zap.String("conn", e.ConnID), zap.String("kind", string(e.Kind)))
	}
}

// Run 消费队列直到 ctx 结束，退出前把剩余的写完
func (j *PgJournal) Run(ctx context.Context) {
	for {
		select {
		case e := <-j.ch:
			j.write(ctx, e)
		case <-ctx.Done():
			flush, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			for {
				select {
				case e := <-j.ch:
					j.write(flush, e)
				default:
					cancel()
					return
				}
			}
		}
	}
}

func (j *PgJournal) write(ctx context.Context, e Entry) {
	if _, err := j.db.Exec(ctx, insertSQL, j.node, e.ConnID, e.UserID, string(e.Kind), e.At.UTC()); err != nil {
		j.log.Error("journal write failed", zap.Error(err),
			zap.String("conn", e.ConnID), zap.String("user", e.UserID), zap.String("kind", string(e.Kind)))
	}
}

// Nop 未配置 JOURNAL_DSN 时使用
type Nop struct{}

func (Nop) Record(context.Context, Entry) {}
