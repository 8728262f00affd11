package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makemelearn/api/internal/domain/registrations"
	"github.com/makemelearn/api/internal/email"
	"github.com/makemelearn/api/internal/storage/postgres"
)

var testLinks = Links{APIURL: "https://makemelearn.fr/api/", PublicURL: "https://makemelearn.fr"}

type fakeSender struct {
	to   []string
	data []email.VerificationData
	err  error
}

func (f *fakeSender) SendVerification(ctx context.Context, to string, data email.VerificationData) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.to = append(f.to, to)
	f.data = append(f.data, data)
	return "msg-1", nil
}

type fakeMaintainer struct {
	unverifiedDays, statsDays int
	result                    postgres.MaintenanceResult
	err                       error
}

func (f *fakeMaintainer) PerformMaintenance(ctx context.Context, unverifiedDays, statsDays int) (postgres.MaintenanceResult, error) {
	f.unverifiedDays, f.statsDays = unverifiedDays, statsDays
	return f.result, f.err
}

type fakeInserter struct {
	args []river.JobArgs
	opts []*river.InsertOpts
	err  error
}

func (f *fakeInserter) Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.args = append(f.args, args)
	f.opts = append(f.opts, opts)
	return &rivertype.JobInsertResult{Job: &rivertype.JobRow{ID: int64(len(f.args)), Kind: args.Kind()}}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func verificationJob(args VerificationEmailArgs) *river.Job[VerificationEmailArgs] {
	return &river.Job[VerificationEmailArgs]{
		JobRow: &rivertype.JobRow{ID: 42, Kind: JobKindVerificationEmail, Attempt: 1},
		Args:   args,
	}
}

func TestArgsKinds(t *testing.T) {
	assert.Equal(t, JobKindVerificationEmail, VerificationEmailArgs{}.Kind())
	assert.Equal(t, JobKindMaintenance, MaintenanceArgs{}.Kind())
	assert.Equal(t, JobKindVerificationEmail, VerificationEmailWorker{}.Kind())
	assert.Equal(t, JobKindMaintenance, MaintenanceWorker{}.Kind())
	assert.NotEqual(t, JobKindVerificationEmail, JobKindMaintenance)
}

func TestLinks_Verification(t *testing.T) {
	data := testLinks.Verification("0b6c1c1e-5d0c-4b8f-9a4e-0d6e6b1f1a11", "a+b@example.com")

	assert.Equal(t, "https://makemelearn.fr/api/registrations/verify/0b6c1c1e-5d0c-4b8f-9a4e-0d6e6b1f1a11", data.VerifyURL)
	u, err := url.Parse(data.UnsubscribeURL)
	require.NoError(t, err)
	assert.Equal(t, "/unsubscribe", u.Path)
	assert.Equal(t, "a+b@example.com", u.Query().Get("email"))
	assert.Equal(t, time.Now().Year(), data.CurrentYear)
}

func TestVerificationEmailWorker_Sends(t *testing.T) {
	sender := &fakeSender{}
	w := VerificationEmailWorker{Sender: sender, Links: testLinks, Logger: quietLogger()}

	err := w.Work(context.Background(), verificationJob(VerificationEmailArgs{
		RegistrationID: "r1", Email: "a@b.com", Token: "tok-1",
	}))
	require.NoError(t, err)
	require.Equal(t, []string{"a@b.com"}, sender.to)
	assert.True(t, strings.HasSuffix(sender.data[0].VerifyURL, "/registrations/verify/tok-1"))
}

func TestVerificationEmailWorker_ReturnsSendErrorForRetry(t *testing.T) {
	sendErr := errors.New("smtp unavailable")
	w := VerificationEmailWorker{Sender: &fakeSender{err: sendErr}, Links: testLinks, Logger: quietLogger()}

	err := w.Work(context.Background(), verificationJob(VerificationEmailArgs{Email: "a@b.com", Token: "tok"}))
	require.Error(t, err)
	assert.ErrorIs(t, err, sendErr)
}

func TestVerificationEmailWorker_Misconfigured(t *testing.T) {
	err := VerificationEmailWorker{}.Work(context.Background(), verificationJob(VerificationEmailArgs{Email: "a@b.com", Token: "tok"}))
	require.Error(t, err)

	err = VerificationEmailWorker{Sender: &fakeSender{}}.Work(context.Background(), nil)
	require.Error(t, err)

	sender := &fakeSender{}
	err = VerificationEmailWorker{Sender: sender}.Work(context.Background(), verificationJob(VerificationEmailArgs{Email: "a@b.com"}))
	require.Error(t, err)
	assert.Empty(t, sender.to)
}

func TestMaintenanceWorker(t *testing.T) {
	db := &fakeMaintainer{result: postgres.MaintenanceResult{RegistrationsDeleted: 3, StatsDeleted: 7}}
	w := MaintenanceWorker{DB: db, UnverifiedDays: 30, StatsDays: 730, Logger: quietLogger()}

	err := w.Work(context.Background(), &river.Job[MaintenanceArgs]{JobRow: &rivertype.JobRow{ID: 1}})
	require.NoError(t, err)
	assert.Equal(t, 30, db.unverifiedDays)
	assert.Equal(t, 730, db.statsDays)

	failing := MaintenanceWorker{DB: &fakeMaintainer{err: errors.New("boom")}, UnverifiedDays: 30, StatsDays: 730}
	require.Error(t, failing.Work(context.Background(), &river.Job[MaintenanceArgs]{JobRow: &rivertype.JobRow{ID: 2}}))

	require.Error(t, MaintenanceWorker{}.Work(context.Background(), &river.Job[MaintenanceArgs]{JobRow: &rivertype.JobRow{ID: 3}}))
}

func TestNewWorkers(t *testing.T) {
	workers := NewWorkers(WorkerDeps{Sender: &fakeSender{}, DB: &fakeMaintainer{}})
	require.NotNil(t, workers)
}

func testRegistration(withToken bool) registrations.Registration {
	reg := registrations.Registration{ID: uuid.New(), Email: "a@b.com"}
	if withToken {
		token := uuid.New()
		reg.VerificationToken = &token
	}
	return reg
}

func TestQueueNotifier(t *testing.T) {
	inserter := &fakeInserter{}
	n := NewQueueNotifier(inserter, NewRetryPolicy(configWithRetries(7)))
	reg := testRegistration(true)

	require.NoError(t, n.NotifyVerification(context.Background(), reg))
	require.Len(t, inserter.args, 1)
	args, ok := inserter.args[0].(VerificationEmailArgs)
	require.True(t, ok)
	assert.Equal(t, reg.ID.String(), args.RegistrationID)
	assert.Equal(t, reg.VerificationToken.String(), args.Token)
	assert.Equal(t, 7, inserter.opts[0].MaxAttempts)

	require.Error(t, n.NotifyVerification(context.Background(), testRegistration(false)))

	inserter.err = errors.New("queue down")
	require.Error(t, n.NotifyVerification(context.Background(), reg))
}

func TestDirectNotifier(t *testing.T) {
	sender := &fakeSender{}
	n := NewDirectNotifier(sender, testLinks)
	reg := testRegistration(true)

	require.NoError(t, n.NotifyVerification(context.Background(), reg))
	require.Equal(t, []string{"a@b.com"}, sender.to)
	assert.Contains(t, sender.data[0].VerifyURL, reg.VerificationToken.String())

	require.Error(t, n.NotifyVerification(context.Background(), testRegistration(false)))
}
