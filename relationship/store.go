// Package relationship implements the SQL-backed friend and group
// membership store. Its Store narrows the broad, every-entity-under-the-
// sun shape of a database adapter interface (Open/Close/IsOpen plus one
// method per entity) down to exactly the relationship and group
// membership calls the rest of this repository needs: AddFriend,
// RemoveFriend, JoinGroup, LeaveGroup, and GroupUserList.
package relationship

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	_ "github.com/go-sql-driver/mysql"
)

// Store is a MySQL-backed implementation of cluster.RelationshipClient
// and msgnode.RelationshipClient.
type Store struct {
	db *sqlx.DB
}

// Open connects to dsn and verifies the connection is live.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("relationship: open: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSchema creates the friendships and group_members tables if they
// do not already exist. Safe to call on every startup.
func (s *Store) CreateSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS friendships (
			user_id   BIGINT UNSIGNED NOT NULL,
			friend_id BIGINT UNSIGNED NOT NULL,
			created   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, friend_id)
		)`)
	if err != nil {
		return fmt.Errorf("relationship: create friendships table: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS group_members (
			group_id BIGINT UNSIGNED NOT NULL,
			user_id  BIGINT UNSIGNED NOT NULL,
			joined   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (group_id, user_id)
		)`)
	if err != nil {
		return fmt.Errorf("relationship: create group_members table: %w", err)
	}
	return nil
}

// AddFriend records a (possibly one-directional) friendship. It is
// idempotent: adding an existing friendship is not an error.
func (s *Store) AddFriend(ctx context.Context, userID, friendID uint64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT IGNORE INTO friendships (user_id, friend_id) VALUES (?, ?)`,
		userID, friendID)
	if err != nil {
		return fmt.Errorf("relationship: add friend: %w", err)
	}
	return nil
}

// RemoveFriend deletes a friendship. Removing a friendship that does not
// exist is not an error.
func (s *Store) RemoveFriend(ctx context.Context, userID, friendID uint64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM friendships WHERE user_id = ? AND friend_id = ?`,
		userID, friendID)
	if err != nil {
		return fmt.Errorf("relationship: remove friend: %w", err)
	}
	return nil
}

// JoinGroup adds userID to groupID's membership.
func (s *Store) JoinGroup(ctx context.Context, userID, groupID uint64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT IGNORE INTO group_members (group_id, user_id) VALUES (?, ?)`,
		groupID, userID)
	if err != nil {
		return fmt.Errorf("relationship: join group: %w", err)
	}
	return nil
}

// LeaveGroup removes userID from groupID's membership.
func (s *Store) LeaveGroup(ctx context.Context, userID, groupID uint64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM group_members WHERE group_id = ? AND user_id = ?`,
		groupID, userID)
	if err != nil {
		return fmt.Errorf("relationship: leave group: %w", err)
	}
	return nil
}

// GroupUserList returns every member of groupID, in no particular order.
func (s *Store) GroupUserList(ctx context.Context, groupID uint64) ([]uint64, error) {
	var members []uint64
	err := s.db.SelectContext(ctx, &members,
		`SELECT user_id FROM group_members WHERE group_id = ?`, groupID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("relationship: group user list: %w", err)
	}
	return members, nil
}

// FriendList returns every friend_id userID has recorded.
func (s *Store) FriendList(ctx context.Context, userID uint64) ([]uint64, error) {
	var friends []uint64
	err := s.db.SelectContext(ctx, &friends,
		`SELECT friend_id FROM friendships WHERE user_id = ?`, userID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("relationship: friend list: %w", err)
	}
	return friends, nil
}
