package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/spec-kit/doubt-service/internal/domain"
)

// UserRepository defines read access to user accounts.
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	GetByIDs(ctx context.Context, ids []int64) (map[int64]domain.User, error)
}

type userRepository struct {
	db *sqlx.DB
}

// NewUserRepository returns a Postgres-backed implementation.
func NewUserRepository(db *sqlx.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	const query = `SELECT id, first_name, last_name, email FROM users WHERE id=$1`
	var user domain.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) GetByIDs(ctx context.Context, ids []int64) (map[int64]domain.User, error) {
	result := make(map[int64]domain.User, len(ids))
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return result, nil
	}
	args := []any{}
	query := fmt.Sprintf(`SELECT id, first_name, last_name, email FROM users WHERE %s`, inClause("id", ids, &args))
	users := []domain.User{}
	if err := r.db.SelectContext(ctx, &users, query, args...); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	for _, user := range users {
		result[user.ID] = user
	}
	return result, nil
}

// CourseRepository defines read access to courses and their enrolments.
type CourseRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Course, error)
	GetByIDs(ctx context.Context, ids []int64) (map[int64]domain.Course, error)
	IsEnrolled(ctx context.Context, courseID, userID int64) (bool, error)
}

type courseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository returns a Postgres-backed implementation.
func NewCourseRepository(db *sqlx.DB) CourseRepository {
	return &courseRepository{db: db}
}

func (r *courseRepository) GetByID(ctx context.Context, id int64) (*domain.Course, error) {
	const query = `SELECT id, full_name, short_name, context_id FROM courses WHERE id=$1`
	var course domain.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		return nil, err
	}
	return &course, nil
}

func (r *courseRepository) GetByIDs(ctx context.Context, ids []int64) (map[int64]domain.Course, error) {
	result := make(map[int64]domain.Course, len(ids))
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return result, nil
	}
	args := []any{}
	query := fmt.Sprintf(`SELECT id, full_name, short_name, context_id FROM courses WHERE %s`, inClause("id", ids, &args))
	courses := []domain.Course{}
	if err := r.db.SelectContext(ctx, &courses, query, args...); err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	for _, course := range courses {
		result[course.ID] = course
	}
	return result, nil
}

// IsEnrolled reports whether the user holds an active enrolment in the course.
func (r *courseRepository) IsEnrolled(ctx context.Context, courseID, userID int64) (bool, error) {
	const query = `SELECT COUNT(1) FROM course_enrolments WHERE course_id=$1 AND user_id=$2 AND active`
	var count int
	if err := r.db.GetContext(ctx, &count, query, courseID, userID); err != nil {
		return false, fmt.Errorf("check enrolment: %w", err)
	}
	return count > 0, nil
}

// GrantRepository reads capability grants.
type GrantRepository interface {
	HasGrant(ctx context.Context, userID, scopeID int64, capability domain.Capability) (bool, error)
}

type grantRepository struct {
	db *sqlx.DB
}

// NewGrantRepository returns a Postgres-backed implementation.
func NewGrantRepository(db *sqlx.DB) GrantRepository {
	return &grantRepository{db: db}
}

// HasGrant matches grants on the scope itself or on the system scope.
func (r *grantRepository) HasGrant(ctx context.Context, userID, scopeID int64, capability domain.Capability) (bool, error) {
	const query = `
        SELECT COUNT(1) FROM doubt_capability_grants
        WHERE user_id=$1 AND capability=$2 AND scope_id IN ($3,$4)`
	var count int
	if err := r.db.GetContext(ctx, &count, query, userID, capability, scopeID, domain.SystemScopeID); err != nil {
		return false, fmt.Errorf("check grant: %w", err)
	}
	return count > 0, nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
