package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/avissapr/groupwork/internal/models"
	"github.com/avissapr/groupwork/internal/services"
)

// newTestUpdater builds a GroupUpdater and a job handle whose output stays
// buffered in memory, so log calls never touch the database.
func newTestUpdater() (*GroupUpdater, *Job) {
	runner := NewRunner(zap.NewNop())
	updater := NewGroupUpdater(runner, services.NewGroupService(zap.NewNop()), zap.NewNop())
	job := &Job{
		ID:             "test-job",
		runner:         runner,
		flushThreshold: 1 << 20,
	}
	return updater, job
}

// TestApplyUploadRecords_FailedRecordRollsBack verifies that a record whose
// sole member cannot be added leaves nothing behind: the group row inserted
// for it is rolled back to the record's savepoint, and its name stays free
// for the next record.
//
// Related:
//   - group_update.go:applyUploadRecords()
//   - group_service.go:CreateOrAddToGroupTx()
//
// Database Operation:
//   - SAVEPOINT / ROLLBACK TO SAVEPOINT around the failed record
//   - SAVEPOINT / RELEASE SAVEPOINT around the committed record
func TestApplyUploadRecords_FailedRecordRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	updater, job := newTestUpdater()

	assessment := &models.Assessment{ID: 42, CourseInstanceID: 7, Label: "Homework 3"}
	config := &models.GroupConfig{ID: 7, AssessmentID: 42}
	records := []GroupUploadRecord{
		{UID: "ghost@example.com", GroupName: "alpha"},
		{UID: "alice@example.com", GroupName: "alpha"},
	}

	// Record 1: the group is created, then the uid turns out not to be
	// enrolled, so everything rolls back to the savepoint.
	mock.ExpectExec("^SAVEPOINT upload_record$").
		WillReturnResult(pgxmock.NewResult("SAVEPOINT", 0))
	mock.ExpectQuery("SELECT id, group_config_id, assessment_id, name, join_code").
		WithArgs(int64(42), "alpha").
		WillReturnRows(pgxmock.NewRows([]string{"id", "group_config_id", "assessment_id", "name", "join_code", "created_at", "deleted_at"}))
	mock.ExpectQuery("INSERT INTO groups").
		WithArgs(int64(7), int64(42), "alpha", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "group_config_id", "assessment_id", "name", "join_code", "created_at", "deleted_at"}).
			AddRow(int64(11), int64(7), int64(42), "alpha", "AB12", time.Now(), nil))
	mock.ExpectExec("INSERT INTO group_logs").
		WithArgs(int64(11), (*int64)(nil), int64(5), "create").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("WITH locked_group AS").
		WithArgs(int64(11), int64(42)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "group_config_id", "assessment_id", "name", "join_code", "created_at", "deleted_at", "cur_size", "max_size", "has_roles"}).
			AddRow(int64(11), int64(7), int64(42), "alpha", "AB12", time.Now(), nil, 0, nil, false))
	mock.ExpectQuery("SELECT id, uid, name, password_hash").
		WithArgs("ghost@example.com").
		WillReturnRows(pgxmock.NewRows([]string{"id", "uid", "name", "password_hash", "created_at"}))
	mock.ExpectExec("^ROLLBACK TO SAVEPOINT upload_record$").
		WillReturnResult(pgxmock.NewResult("ROLLBACK", 0))
	mock.ExpectExec("^RELEASE SAVEPOINT upload_record$").
		WillReturnResult(pgxmock.NewResult("RELEASE", 0))

	// Record 2: with the failed record undone, the same group name is
	// created again and the member is added.
	aliceID := int64(31)
	mock.ExpectExec("^SAVEPOINT upload_record$").
		WillReturnResult(pgxmock.NewResult("SAVEPOINT", 0))
	mock.ExpectQuery("SELECT id, group_config_id, assessment_id, name, join_code").
		WithArgs(int64(42), "alpha").
		WillReturnRows(pgxmock.NewRows([]string{"id", "group_config_id", "assessment_id", "name", "join_code", "created_at", "deleted_at"}))
	mock.ExpectQuery("INSERT INTO groups").
		WithArgs(int64(7), int64(42), "alpha", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "group_config_id", "assessment_id", "name", "join_code", "created_at", "deleted_at"}).
			AddRow(int64(12), int64(7), int64(42), "alpha", "QQ49", time.Now(), nil))
	mock.ExpectExec("INSERT INTO group_logs").
		WithArgs(int64(12), (*int64)(nil), int64(5), "create").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("WITH locked_group AS").
		WithArgs(int64(12), int64(42)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "group_config_id", "assessment_id", "name", "join_code", "created_at", "deleted_at", "cur_size", "max_size", "has_roles"}).
			AddRow(int64(12), int64(7), int64(42), "alpha", "QQ49", time.Now(), nil, 0, nil, false))
	mock.ExpectQuery("SELECT id, uid, name, password_hash").
		WithArgs("alice@example.com").
		WillReturnRows(pgxmock.NewRows([]string{"id", "uid", "name", "password_hash", "created_at"}).
			AddRow(aliceID, "alice@example.com", "Alice", "$2a$12$hash", time.Now()))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(aliceID, int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(aliceID, int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT g.id").
		WithArgs(int64(42), aliceID).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectExec("INSERT INTO group_users").
		WithArgs(int64(12), aliceID, int64(7)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO group_logs").
		WithArgs(int64(12), &aliceID, int64(5), "join").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("^RELEASE SAVEPOINT upload_record$").
		WillReturnResult(pgxmock.NewResult("RELEASE", 0))

	successCount, errorCount, err := updater.applyUploadRecords(
		context.Background(), job, mock, assessment, config, records, 5)

	require.NoError(t, err)
	assert.Equal(t, 1, successCount)
	assert.Equal(t, 1, errorCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestApplyUploadRecords_MissingFields verifies that records without a uid
// or group name are counted as errors without any database work.
func TestApplyUploadRecords_MissingFields(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	updater, job := newTestUpdater()

	assessment := &models.Assessment{ID: 42, CourseInstanceID: 7}
	config := &models.GroupConfig{ID: 7, AssessmentID: 42}
	records := []GroupUploadRecord{
		{UID: "", GroupName: "alpha"},
		{UID: "alice@example.com", GroupName: ""},
	}

	successCount, errorCount, err := updater.applyUploadRecords(
		context.Background(), job, mock, assessment, config, records, 5)

	require.NoError(t, err)
	assert.Equal(t, 0, successCount)
	assert.Equal(t, 2, errorCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}
