package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/kovancilartr/learnapp-api/internal/models"
)

func TestTransactorCommitsApproval(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()
	requests := NewEnrollmentRequestRepository(db)
	enrollments := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollment_requests")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO enrollments")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := NewTransactor(db).WithinTx(context.Background(), func(exec sqlx.ExtContext) error {
		if err := requests.UpdateDecision(context.Background(), exec, DecisionParams{
			ID: "req-1", Status: models.EnrollmentRequestApproved, ReviewedBy: "admin-1", ReviewedAt: time.Now(),
		}); err != nil {
			return err
		}
		return enrollments.Create(context.Background(), exec, &models.Enrollment{StudentID: "stu-1", CourseID: "course-1"})
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactorRollsBackWhenEnrollmentInsertFails(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()
	requests := NewEnrollmentRequestRepository(db)
	enrollments := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollment_requests")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO enrollments")).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := NewTransactor(db).WithinTx(context.Background(), func(exec sqlx.ExtContext) error {
		if err := requests.UpdateDecision(context.Background(), exec, DecisionParams{
			ID: "req-1", Status: models.EnrollmentRequestApproved, ReviewedBy: "admin-1", ReviewedAt: time.Now(),
		}); err != nil {
			return err
		}
		return enrollments.Create(context.Background(), exec, &models.Enrollment{StudentID: "stu-1", CourseID: "course-1"})
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactorReportsBeginFailure(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))
	called := false
	err := NewTransactor(db).WithinTx(context.Background(), func(exec sqlx.ExtContext) error {
		called = true
		return nil
	})
	require.Error(t, err)
	require.False(t, called)
	require.NoError(t, mock.ExpectationsWereMet())
}
