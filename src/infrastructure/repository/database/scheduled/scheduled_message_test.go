package scheduled

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	domainErrors "go-line-scheduler/src/domain/errors"
	domainScheduled "go-line-scheduler/src/domain/scheduled"
	logger "go-line-scheduler/src/infrastructure/logger"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&ScheduledMessage{}, &DeliveryAttemptLog{}))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// newFileTestDB opens a WAL database on disk behind a pool of several connections, so concurrent
// claims really run on separate connections and contend for the write lock.
func newFileTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?_busy_timeout=10000&_journal_mode=WAL", filepath.Join(t.TempDir(), "scheduler.db"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(8)
	sqlDB.SetMaxIdleConns(8)
	require.NoError(t, db.AutoMigrate(&ScheduledMessage{}, &DeliveryAttemptLog{}))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func newTestRepo(t *testing.T) (*Repository, *gorm.DB) {
	db := newTestDB(t)
	return &Repository{DB: db, Logger: logger.NewNopLogger()}, db
}

func seed(t *testing.T, repo *Repository, at time.Time, targets ...string) *domainScheduled.ScheduledMessage {
	t.Helper()
	if len(targets) == 0 {
		targets = []string{"U1"}
	}
	msg, err := repo.Create(context.Background(), &domainScheduled.ScheduledMessage{
		Content:       "hi",
		ScheduledTime: at,
		TargetType:    domainScheduled.TargetUser,
		TargetIDs:     targets,
	})
	require.NoError(t, err)
	return msg
}

func TestCreateAndGetByID_RoundTripsLists(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	at := time.Now().Add(time.Minute).Truncate(time.Second)

	created, err := repo.Create(ctx, &domainScheduled.ScheduledMessage{
		Content:       "hello",
		ImageRefs:     []string{"https://cdn.example.com/a.png"},
		ScheduledTime: at,
		TargetType:    domainScheduled.TargetGroup,
		TargetIDs:     []string{"C1", "C2", "C1"},
		ImageFirst:    true,
		CredentialRef: "bot-a",
	})
	require.NoError(t, err)
	assert.Equal(t, domainScheduled.StatusPending, created.Status)

	got, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"C1", "C2", "C1"}, got.TargetIDs)
	assert.Equal(t, []string{"https://cdn.example.com/a.png"}, got.ImageRefs)
	assert.True(t, got.ImageFirst)
	assert.Equal(t, "bot-a", got.CredentialRef)
	assert.True(t, at.Equal(got.ScheduledTime))
}

func TestGetByID_NotFound(t *testing.T) {
	repo, _ := newTestRepo(t)
	_, err := repo.GetByID(context.Background(), 999)
	assert.True(t, domainErrors.IsType(err, domainErrors.NotFound))
}

func TestListDue_SkipsFutureAndNonPending(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	older := seed(t, repo, now.Add(-2*time.Minute))
	newer := seed(t, repo, now.Add(-time.Second))
	seed(t, repo, now.Add(time.Hour))
	cancelled := seed(t, repo, now.Add(-time.Minute))
	require.NoError(t, db.Model(&ScheduledMessage{}).Where("id = ?", cancelled.ID).
		Update("status", string(domainScheduled.StatusCancelled)).Error)

	due, err := repo.ListDue(ctx, now, 50)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, older.ID, due[0].ID)
	assert.Equal(t, newer.ID, due[1].ID)

	limited, err := repo.ListDue(ctx, now, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestClaim_OnlyPendingRowsAreReturned(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	a := seed(t, repo, time.Now().Add(-time.Second))
	b := seed(t, repo, time.Now().Add(-time.Second))
	require.NoError(t, repo.Cancel(ctx, b.ID))

	claimed, err := repo.Claim(ctx, []int{a.ID, b.ID}, time.Now())
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, a.ID, claimed[0].ID)
	assert.Equal(t, domainScheduled.StatusSending, claimed[0].Status)

	again, err := repo.Claim(ctx, []int{a.ID}, time.Now())
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestClaim_RowRescheduledIntoFutureIsNotClaimed(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()
	msg := seed(t, repo, time.Now().Add(-time.Second))
	require.NoError(t, db.Model(&ScheduledMessage{}).Where("id = ?", msg.ID).
		Update("scheduled_time", time.Now().Add(time.Hour).UTC()).Error)

	claimed, err := repo.Claim(ctx, []int{msg.ID}, time.Now())
	require.NoError(t, err)
	assert.Empty(t, claimed)

	got, err := repo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, domainScheduled.StatusPending, got.Status)
}

func TestClaim_ConcurrentClaimsAreExactlyOnce(t *testing.T) {
	db := newFileTestDB(t)
	repo := &Repository{DB: db, Logger: logger.NewNopLogger()}
	ctx := context.Background()

	var ids []int
	for i := 0; i < 20; i++ {
		ids = append(ids, seed(t, repo, time.Now().Add(-time.Second)).ID)
	}

	const workers = 8
	results := make([][]domainScheduled.ScheduledMessage, workers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			<-start
			claimed, err := repo.Claim(ctx, ids, time.Now())
			assert.NoError(t, err)
			results[w] = claimed
		}(w)
	}
	close(start)
	wg.Wait()

	seen := map[int]int{}
	for _, claimed := range results {
		for _, m := range claimed {
			seen[m.ID]++
		}
	}
	assert.Len(t, seen, len(ids))
	for id, n := range seen {
		assert.Equalf(t, 1, n, "message %d claimed %d times", id, n)
	}
}

func TestComplete_WritesStatusAndLogTogether(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	msg := seed(t, repo, time.Now().Add(-time.Second), "U1", "U2")
	_, err := repo.Claim(ctx, []int{msg.ID}, time.Now())
	require.NoError(t, err)

	require.NoError(t, repo.Complete(ctx, msg.ID, domainScheduled.StatusSent, "Failed to send to 1 target(s): U2"))

	got, err := repo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, domainScheduled.StatusSent, got.Status)

	logs, err := repo.GetAttemptLogs(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domainScheduled.StatusSent, logs[0].Status)
	assert.Contains(t, logs[0].Error, "U2")
}

func TestComplete_TerminalRowsAreNotRewritten(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	msg := seed(t, repo, time.Now().Add(-time.Second))
	_, err := repo.Claim(ctx, []int{msg.ID}, time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Complete(ctx, msg.ID, domainScheduled.StatusFailed, "boom"))

	err = repo.Complete(ctx, msg.ID, domainScheduled.StatusSent, "")
	assert.True(t, domainErrors.IsType(err, domainErrors.Conflict))

	logs, err := repo.GetAttemptLogs(ctx, msg.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	got, err := repo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, domainScheduled.StatusFailed, got.Status)
}

func TestComplete_RejectsNonTerminalStatus(t *testing.T) {
	repo, _ := newTestRepo(t)
	err := repo.Complete(context.Background(), 1, domainScheduled.StatusPending, "")
	assert.True(t, domainErrors.IsType(err, domainErrors.ValidationError))
}

func TestCancel_OnlyWhilePending(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	pending := seed(t, repo, time.Now().Add(time.Hour))
	require.NoError(t, repo.Cancel(ctx, pending.ID))
	got, err := repo.GetByID(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domainScheduled.StatusCancelled, got.Status)

	claimed := seed(t, repo, time.Now().Add(-time.Second))
	_, err = repo.Claim(ctx, []int{claimed.ID}, time.Now())
	require.NoError(t, err)
	err = repo.Cancel(ctx, claimed.ID)
	assert.True(t, domainErrors.IsType(err, domainErrors.Conflict))

	err = repo.Cancel(ctx, 12345)
	assert.True(t, domainErrors.IsType(err, domainErrors.NotFound))
}

func TestClaim_IssuesConditionalUpdateOnPostgres(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	repo := &Repository{DB: db, Logger: logger.NewNopLogger()}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "scheduled_messages" SET`) + `.*"status"=.*` +
		`WHERE \(?id IN \(\$\d+,\$\d+\) AND status = \$\d+ AND scheduled_time <= \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	claimed, err := repo.Claim(context.Background(), []int{1, 2}, time.Now())
	require.NoError(t, err)
	assert.Empty(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePending_RewritesFieldsWhilePending(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	msg := seed(t, repo, time.Now().Add(time.Hour), "U1")

	edited := *msg
	edited.Content = "changed"
	edited.TargetIDs = []string{"U2", "U3"}
	edited.ImageRefs = []string{"https://cdn.example.com/b.png"}
	edited.CredentialRef = "bot-b"
	edited.ScheduledTime = time.Now().Add(2 * time.Hour).Truncate(time.Second)

	got, err := repo.UpdatePending(ctx, &edited)
	require.NoError(t, err)
	assert.Equal(t, "changed", got.Content)
	assert.Equal(t, []string{"U2", "U3"}, got.TargetIDs)
	assert.Equal(t, []string{"https://cdn.example.com/b.png"}, got.ImageRefs)
	assert.Equal(t, "bot-b", got.CredentialRef)
	assert.True(t, edited.ScheduledTime.Equal(got.ScheduledTime))
	assert.Equal(t, domainScheduled.StatusPending, got.Status)

	edited.CredentialRef = ""
	got, err = repo.UpdatePending(ctx, &edited)
	require.NoError(t, err)
	assert.Empty(t, got.CredentialRef)
}

func TestUpdatePending_ClaimedRowIsConflict(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	msg := seed(t, repo, time.Now().Add(-time.Second), "U1")
	_, err := repo.Claim(ctx, []int{msg.ID}, time.Now())
	require.NoError(t, err)

	edited := *msg
	edited.TargetIDs = []string{"U9"}
	_, err = repo.UpdatePending(ctx, &edited)
	assert.True(t, domainErrors.IsType(err, domainErrors.Conflict))

	got, err := repo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"U1"}, got.TargetIDs)

	edited.ID = 9999
	_, err = repo.UpdatePending(ctx, &edited)
	assert.True(t, domainErrors.IsType(err, domainErrors.NotFound))
}

func TestUpdatePending_ConcurrentWithClaimIsExclusive(t *testing.T) {
	db := newFileTestDB(t)
	repo := &Repository{DB: db, Logger: logger.NewNopLogger()}
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		msg := seed(t, repo, time.Now().Add(-time.Second), "U1")
		edited := *msg
		edited.TargetIDs = []string{"U-edited"}

		var claimed []domainScheduled.ScheduledMessage
		var updateErr error
		start := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			var err error
			claimed, err = repo.Claim(ctx, []int{msg.ID}, time.Now())
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			<-start
			_, updateErr = repo.UpdatePending(ctx, &edited)
		}()
		close(start)
		wg.Wait()

		require.Len(t, claimed, 1)
		if updateErr == nil {
			// edit landed first, so the claim carried the edited recipients
			assert.Equal(t, []string{"U-edited"}, claimed[0].TargetIDs)
		} else {
			assert.True(t, domainErrors.IsType(updateErr, domainErrors.Conflict))
			assert.Equal(t, []string{"U1"}, claimed[0].TargetIDs)
		}
	}
}

func TestList_OrdersAndFilters(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	later := seed(t, repo, time.Now().Add(2*time.Hour))
	sooner := seed(t, repo, time.Now().Add(time.Hour))
	cancelled := seed(t, repo, time.Now().Add(3*time.Hour))
	require.NoError(t, repo.Cancel(ctx, cancelled.ID))

	all, err := repo.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int{sooner.ID, later.ID, cancelled.ID}, []int{all[0].ID, all[1].ID, all[2].ID})

	pending, err := repo.List(ctx, ListFilter{Status: domainScheduled.StatusPending})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	page, err := repo.List(ctx, ListFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, later.ID, page[0].ID)
}

func TestLatestAttemptLogs_NewestPerMessage(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()
	a := seed(t, repo, time.Now().Add(-time.Second))
	b := seed(t, repo, time.Now().Add(time.Hour))
	require.NoError(t, db.Create(&DeliveryAttemptLog{MessageID: a.ID, Status: "failed", Error: "first"}).Error)
	require.NoError(t, db.Create(&DeliveryAttemptLog{MessageID: a.ID, Status: "sent", Error: "second"}).Error)

	latest, err := repo.LatestAttemptLogs(ctx, []int{a.ID, b.ID})
	require.NoError(t, err)
	require.Contains(t, latest, a.ID)
	assert.Equal(t, "second", latest[a.ID].Error)
	assert.NotContains(t, latest, b.ID)

	empty, err := repo.LatestAttemptLogs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
