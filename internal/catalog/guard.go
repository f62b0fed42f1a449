package catalog

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/bcrypt"
)

// guardInput reduces a password of any length to the fixed-size input
// bcrypt accepts (it rejects anything over 72 bytes).
func guardInput(password string) []byte {
	sum := blake3.Sum256([]byte(password))
	return []byte(hex.EncodeToString(sum[:]))
}

// HashGuard hashes an edit password. An empty password yields an empty
// guard, meaning the record cannot be edited through the API.
func HashGuard(password string) (string, error) {
	if password == "" {
		return "", nil
	}
	hashed, err := bcrypt.GenerateFromPassword(guardInput(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash edit password: %w", err)
	}
	return string(hashed), nil
}

// CheckGuard reports whether password matches the stored guard.
func CheckGuard(guard, password string) bool {
	if guard == "" || password == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(guard), guardInput(password)) == nil
}

// ReplaceContent swaps the cached document of a single-file record after
// verifying its edit password. persist, when non-nil, runs between the
// password check and the catalog update so the on-disk file is written first.
func ReplaceContent(ctx context.Context, s Store, id int64, html, password string, persist func(*Game) error) (*Game, error) {
	g, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if g.Mode != SingleFile {
		return nil, fmt.Errorf("game %d is a %s package: %w", id, g.Mode, ErrWrongMode)
	}
	if !CheckGuard(g.EditGuard, password) {
		return nil, ErrGuardMismatch
	}
	if persist != nil {
		if err := persist(g); err != nil {
			return nil, err
		}
	}
	hash := HashContent([]byte(html))
	if err := s.UpdateContent(ctx, id, html, hash); err != nil {
		return nil, err
	}
	g.HTMLCode = html
	g.ContentHash = hash
	return g, nil
}
