// Package jobs runs administrative bulk operations as background jobs.
// This file implements the two bulk group operations: CSV roster upload and
// random group assignment. Both run under an assessment-scoped advisory
// lock in one transaction; per-record domain failures are logged and
// counted without aborting the batch.
package jobs

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math/rand"
	"strings"

	"go.uber.org/zap"

	"github.com/avissapr/groupwork/internal/database"
	"github.com/avissapr/groupwork/internal/models"
	"github.com/avissapr/groupwork/internal/repository"
	"github.com/avissapr/groupwork/internal/services"
)

// groupLockTimeoutMillis bounds how long a bulk job waits for the
// assessment's group lock before reporting that another update is running.
const groupLockTimeoutMillis = 10000

// GroupUploadRecord is one row of an uploaded group roster.
type GroupUploadRecord struct {
	UID       string
	GroupName string
}

// GroupUpdater executes the bulk group operations.
type GroupUpdater struct {
	runner      *Runner
	service     *services.GroupService
	groups      *repository.GroupRepository
	assessments *repository.AssessmentRepository
	logger      *zap.Logger
}

// NewGroupUpdater creates a new GroupUpdater on top of the given runner and
// group service.
func NewGroupUpdater(runner *Runner, service *services.GroupService, logger *zap.Logger) *GroupUpdater {
	return &GroupUpdater{
		runner:      runner,
		service:     service,
		groups:      repository.NewGroupRepository(),
		assessments: repository.NewAssessmentRepository(),
		logger:      logger,
	}
}

// ParseGroupUploadCSV reads a roster CSV with a header row containing at
// least "uid" and "group_name" columns ("groupname" is accepted as a legacy
// alias). Header matching is case-insensitive; extra columns are ignored.
// Field-level validation (empty values) is left to the upload job so it can
// report such rows per record rather than rejecting the file.
func ParseGroupUploadCSV(r io.Reader) ([]GroupUploadRecord, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("the CSV file is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	uidCol, nameCol := -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "uid":
			uidCol = i
		case "group_name", "groupname":
			nameCol = i
		}
	}
	if uidCol < 0 || nameCol < 0 {
		return nil, fmt.Errorf(`the CSV header must contain "uid" and "group_name" columns`)
	}

	var records []GroupUploadRecord
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row: %w", err)
		}
		var rec GroupUploadRecord
		if uidCol < len(row) {
			rec.UID = strings.TrimSpace(row[uidCol])
		}
		if nameCol < len(row) {
			rec.GroupName = strings.TrimSpace(row[nameCol])
		}
		records = append(records, rec)
	}
	return records, nil
}

// UploadInstanceGroups starts a background job that assigns users to named
// groups from the parsed roster. Groups are created on first reference;
// size limits are not enforced on this path. Returns the job id for status
// polling.
func (u *GroupUpdater) UploadInstanceGroups(ctx context.Context, assessmentID, authnUserID int64, records []GroupUploadRecord) (string, error) {
	assessment, err := u.assessments.GetByID(ctx, database.DB, assessmentID)
	if err != nil {
		return "", err
	}
	if assessment == nil {
		return "", services.NewStatusError(404, "Assessment not found")
	}

	job, err := u.runner.CreateJob(ctx, assessmentID, "upload_instance_groups",
		fmt.Sprintf("Upload group settings for %s", assessment.Label))
	if err != nil {
		return "", err
	}

	u.runner.Execute(job, func(ctx context.Context, job *Job) error {
		job.Verbose(ctx, "Uploading group settings for %s", assessment.Label)

		successCount, errorCount := 0, 0
		err := u.withGroupLock(ctx, job, assessmentID, func(tx database.DBTX) error {
			config, err := u.groups.GetConfig(ctx, tx, assessmentID)
			if err != nil {
				return err
			}
			if config == nil {
				return fmt.Errorf("assessment %d is not configured for group work", assessmentID)
			}

			successCount, errorCount, err = u.applyUploadRecords(ctx, job, tx, assessment, config, records, authnUserID)
			return err
		})
		if err != nil {
			return err
		}

		job.Verbose(ctx, "Successfully processed %d of %d records", successCount, len(records))
		if errorCount > 0 {
			job.SucceedPartially(ctx, fmt.Sprintf("%d of %d records failed; the rest were committed", errorCount, len(records)))
		} else {
			job.Succeed(ctx)
		}
		return nil
	})

	return job.ID, nil
}

// applyUploadRecords applies the roster records inside the caller's
// transaction. Each record runs under a savepoint, so a domain failure
// rolls back only that record's writes; a group row inserted for a record
// whose sole member could not be added does not survive the batch. Any
// non-domain error aborts the whole batch.
func (u *GroupUpdater) applyUploadRecords(ctx context.Context, job *Job, tx database.DBTX, assessment *models.Assessment, config *models.GroupConfig, records []GroupUploadRecord, authnUserID int64) (successCount, errorCount int, err error) {
	for i, rec := range records {
		if rec.UID == "" || rec.GroupName == "" {
			job.Error(ctx, "Record %d is missing a uid or group name", i+1)
			errorCount++
			continue
		}
		if _, err := tx.Exec(ctx, "SAVEPOINT upload_record"); err != nil {
			return successCount, errorCount, err
		}
		recErr := u.service.CreateOrAddToGroupTx(ctx, tx, assessment, config, rec.GroupName, []string{rec.UID}, authnUserID)
		if recErr == nil {
			if _, err := tx.Exec(ctx, "RELEASE SAVEPOINT upload_record"); err != nil {
				return successCount, errorCount, err
			}
			job.Verbose(ctx, "Added %s to group %s", rec.UID, rec.GroupName)
			successCount++
			continue
		}
		if !services.IsGroupOperationError(recErr) {
			return successCount, errorCount, recErr
		}
		if _, err := tx.Exec(ctx, "ROLLBACK TO SAVEPOINT upload_record"); err != nil {
			return successCount, errorCount, err
		}
		// ROLLBACK TO keeps the savepoint alive; release it so the names
		// do not pile up across a large roster.
		if _, err := tx.Exec(ctx, "RELEASE SAVEPOINT upload_record"); err != nil {
			return successCount, errorCount, err
		}
		job.Error(ctx, "Error adding %s to group %s: %s", rec.UID, rec.GroupName, recErr.Error())
		errorCount++
	}
	return successCount, errorCount, nil
}

// RandomGroups starts a background job that shuffles every ungrouped,
// actively enrolled student in the assessment into system-named groups of
// size between minSize and maxSize. Bounds are validated before the job is
// created; an impossible remainder is committed anyway with a warning.
func (u *GroupUpdater) RandomGroups(ctx context.Context, assessmentID, authnUserID int64, minSize, maxSize int) (string, error) {
	if maxSize <= 1 || minSize <= 0 || maxSize < minSize {
		return "", services.NewGroupOperationError("Group Setting Requirements: max > 1; min > 0; max > min")
	}

	assessment, err := u.assessments.GetByID(ctx, database.DB, assessmentID)
	if err != nil {
		return "", err
	}
	if assessment == nil {
		return "", services.NewStatusError(404, "Assessment not found")
	}

	job, err := u.runner.CreateJob(ctx, assessmentID, "random_groups",
		fmt.Sprintf("Randomly assign groups for %s", assessment.Label))
	if err != nil {
		return "", err
	}

	u.runner.Execute(job, func(ctx context.Context, job *Job) error {
		errorCount := 0
		groupedCount := 0
		err := u.withGroupLock(ctx, job, assessmentID, func(tx database.DBTX) error {
			config, err := u.groups.GetConfig(ctx, tx, assessmentID)
			if err != nil {
				return err
			}
			if config == nil {
				return fmt.Errorf("assessment %d is not configured for group work", assessmentID)
			}

			ungrouped, err := u.groups.ListUngroupedEnrolled(ctx, tx, assessmentID)
			if err != nil {
				return err
			}
			if len(ungrouped) == 0 {
				job.Verbose(ctx, "No ungrouped students to assign")
				return nil
			}

			uids := make([]string, len(ungrouped))
			for i, user := range ungrouped {
				uids[i] = user.UID
			}
			rand.Shuffle(len(uids), func(i, j int) {
				uids[i], uids[j] = uids[j], uids[i]
			})

			chunks, sized := PartitionIntoGroups(uids, minSize, maxSize)
			if !sized {
				job.Warn(ctx, "Not enough students to satisfy the minimum group size; the last group is undersized")
			}

			for _, chunk := range chunks {
				err := u.service.CreateGroupTx(ctx, tx, assessment, config, chunk, authnUserID)
				if err == nil {
					groupedCount += len(chunk)
					continue
				}
				if !services.IsGroupOperationError(err) {
					return err
				}
				job.Error(ctx, "Error creating a group for %s: %s", strings.Join(chunk, ", "), err.Error())
				errorCount++
			}
			job.Verbose(ctx, "Assigned %d of %d students to %d groups", groupedCount, len(uids), len(chunks))
			return nil
		})
		if err != nil {
			return err
		}

		if errorCount > 0 {
			job.SucceedPartially(ctx, fmt.Sprintf("%d groups could not be created; the rest were committed", errorCount))
		} else {
			job.Succeed(ctx)
		}
		return nil
	})

	return job.ID, nil
}

// withGroupLock runs fn in one transaction holding the assessment's group
// lock. A second bulk job against the same assessment fails fast with a
// clear message instead of queueing behind the first.
func (u *GroupUpdater) withGroupLock(ctx context.Context, job *Job, assessmentID int64, fn func(tx database.DBTX) error) error {
	lockName := fmt.Sprintf("assessment:%d:groups", assessmentID)
	return database.DoWithLock(ctx, lockName, database.LockOptions{
		TimeoutMillis: groupLockTimeoutMillis,
		OnNotAcquired: func() error {
			return fmt.Errorf("Another user is already updating the groups for this assessment.")
		},
	}, fn)
}

// PartitionIntoGroups splits the shuffled uid list into chunks of maxSize,
// then rebalances so the final chunk reaches minSize by borrowing one
// member from each earlier chunk that is above minSize. The second return
// value is false when rebalancing could not bring every chunk up to
// minSize; members are never dropped, so the total across chunks always
// equals len(uids).
func PartitionIntoGroups(uids []string, minSize, maxSize int) ([][]string, bool) {
	if len(uids) == 0 {
		return nil, true
	}

	var chunks [][]string
	for start := 0; start < len(uids); start += maxSize {
		end := start + maxSize
		if end > len(uids) {
			end = len(uids)
		}
		chunks = append(chunks, uids[start:end])
	}

	last := len(chunks) - 1
	// The chunks alias the input slice; give the last one its own backing
	// array before growing it.
	chunks[last] = append([]string(nil), chunks[last]...)
	for i := 0; len(chunks[last]) < minSize && i < last; i++ {
		if len(chunks[i]) <= minSize {
			continue
		}
		donor := chunks[i]
		chunks[last] = append(chunks[last], donor[len(donor)-1])
		chunks[i] = donor[:len(donor)-1]
	}

	return chunks, len(chunks[last]) >= minSize
}
