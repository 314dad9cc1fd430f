package store

import (
	"context"
	"fmt"
)

func (s *PostgresStore) GetUser(ctx context.Context, userID int64) (User, error) {
	var user User
	err := s.pool.QueryRowContext(ctx, `
		SELECT id, name, email, role, COALESCE(avatar_url, '')
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.Name, &user.Email, &user.Role, &user.AvatarURL)
	return user, err
}

// GetUsers returns the users that exist among ids, keyed by id.
func (s *PostgresStore) GetUsers(ctx context.Context, ids []int64) (map[int64]User, error) {
	users := make(map[int64]User, len(ids))
	if len(ids) == 0 {
		return users, nil
	}
	rows, err := s.pool.QueryContext(ctx, `
		SELECT id, name, email, role, COALESCE(avatar_url, '')
		FROM users
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("get users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.Name, &user.Email, &user.Role, &user.AvatarURL); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users[user.ID] = user
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

func (s *PostgresStore) ListUsersByRole(ctx context.Context, role string) ([]User, error) {
	rows, err := s.pool.QueryContext(ctx, `
		SELECT id, name, email, role, COALESCE(avatar_url, '')
		FROM users
		WHERE role=$1
		ORDER BY id ASC
	`, role)
	if err != nil {
		return nil, fmt.Errorf("list users by role: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.Name, &user.Email, &user.Role, &user.AvatarURL); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID int64) (Project, error) {
	var project Project
	err := s.pool.QueryRowContext(ctx, `
		SELECT id, title, client_id, freelancer_id
		FROM projects
		WHERE id=$1
	`, projectID).Scan(&project.ID, &project.Title, &project.ClientID, &project.FreelancerID)
	return project, err
}
