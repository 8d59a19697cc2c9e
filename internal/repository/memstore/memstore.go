// Package memstore holds in-memory versions of the credential store used by
// service and handler tests.
package memstore

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"consultancy/api/internal/models"
	"consultancy/api/internal/repository"
)

type Store struct {
	mu       sync.Mutex
	users    map[string]models.User
	sessions map[string]models.Session
	tokens   map[string]models.VerificationToken
}

func New() *Store {
	return &Store{
		users:    make(map[string]models.User),
		sessions: make(map[string]models.Session),
		tokens:   make(map[string]models.VerificationToken),
	}
}

func (s *Store) Users() Users       { return Users{db: s} }
func (s *Store) Sessions() Sessions { return Sessions{db: s} }
func (s *Store) Tokens() Tokens     { return Tokens{db: s} }

// User returns a copy of the stored user.
func (s *Store) User(id string) (models.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	return user, ok
}

func (s *Store) UserCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

func (s *Store) SetRole(id string, role models.UserRole) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user, ok := s.users[id]; ok {
		user.Role = role
		s.users[id] = user
	}
}

// ExpireSessions moves every session of userID into the past.
func (s *Store) ExpireSessions(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, session := range s.sessions {
		if session.UserID == userID {
			session.ExpiresAt = time.Now().Add(-time.Minute)
			s.sessions[id] = session
		}
	}
}

func (m Sessions) DeleteExpired(_ context.Context) (int64, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	now := time.Now()
	var n int64
	for id, session := range m.db.sessions {
		if session.Expired(now) {
			delete(m.db.sessions, id)
			n++
		}
	}
	return n, nil
}

func (m Tokens) DeleteExpired(_ context.Context) (int64, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	now := time.Now()
	var n int64
	for key, token := range m.db.tokens {
		if !now.Before(token.ExpiresAt) {
			delete(m.db.tokens, key)
			n++
		}
	}
	return n, nil
}

type Users struct{ db *Store }

func (m Users) Create(_ context.Context, user models.User) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, existing := range m.db.users {
		if existing.Email == user.Email {
			return repository.ErrDuplicateEmail
		}
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	m.db.users[user.ID] = user
	return nil
}

func (m Users) FindByEmail(_ context.Context, email string) (*models.User, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, user := range m.db.users {
		if user.Email == email {
			u := user
			return &u, nil
		}
	}
	return nil, nil
}

func (m Users) GetByID(_ context.Context, id string) (*models.User, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	user, ok := m.db.users[id]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

func (m Users) List(_ context.Context, limit int, offset int) ([]models.User, int, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	all := make([]models.User, 0, len(m.db.users))
	for _, user := range m.db.users {
		all = append(all, user)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	if offset > len(all) {
		offset = len(all)
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], len(all), nil
}

func (m Users) update(id string, fn func(u *models.User)) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	user, ok := m.db.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	fn(&user)
	user.UpdatedAt = time.Now()
	m.db.users[id] = user
	return nil
}

func (m Users) UpdateStatus(_ context.Context, id string, status models.UserStatus) error {
	return m.update(id, func(u *models.User) { u.Status = status })
}

func (m Users) MarkEmailVerified(_ context.Context, id string) error {
	return m.update(id, func(u *models.User) {
		now := time.Now()
		u.EmailVerifiedAt = &now
		if u.Status == models.UserStatusPending {
			u.Status = models.UserStatusActive
		}
	})
}

func (m Users) UpdatePassword(_ context.Context, id string, passwordHash string) error {
	return m.update(id, func(u *models.User) { u.PasswordHash = passwordHash })
}

func (m Users) UpdateLastLogin(_ context.Context, id string) error {
	return m.update(id, func(u *models.User) {
		now := time.Now()
		u.LastLoginAt = &now
	})
}

func (m Users) SetMFASecret(_ context.Context, id string, secret string) error {
	return m.update(id, func(u *models.User) {
		u.MFASecret = &secret
		u.MFAEnabled = false
	})
}

func (m Users) EnableMFA(_ context.Context, id string) error {
	return m.update(id, func(u *models.User) { u.MFAEnabled = true })
}

func (m Users) DisableMFA(_ context.Context, id string) error {
	return m.update(id, func(u *models.User) {
		u.MFAEnabled = false
		u.MFASecret = nil
	})
}

func (m Users) Anonymize(_ context.Context, id string, placeholderEmail string) error {
	return m.update(id, func(u *models.User) {
		u.Email = placeholderEmail
		u.PasswordHash = ""
		u.FirstName = ""
		u.LastName = ""
		u.Company = nil
		u.MFASecret = nil
		u.MFAEnabled = false
		u.Status = models.UserStatusDeleted
	})
}

func (m Users) CountByStatus(_ context.Context) (map[models.UserStatus]int, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	counts := make(map[models.UserStatus]int)
	for _, user := range m.db.users {
		counts[user.Status]++
	}
	return counts, nil
}

func (m Users) CountByRole(_ context.Context) (map[models.UserRole]int, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	counts := make(map[models.UserRole]int)
	for _, user := range m.db.users {
		if user.Status != models.UserStatusDeleted {
			counts[user.Role]++
		}
	}
	return counts, nil
}

type Sessions struct{ db *Store }

func (m Sessions) Create(_ context.Context, session models.Session) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	now := time.Now()
	session.CreatedAt = now
	session.LastSeenAt = now
	m.db.sessions[session.ID] = session
	return nil
}

func (m Sessions) FindByRefreshHash(_ context.Context, userID string, refreshHash []byte) (*models.Session, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, session := range m.db.sessions {
		if session.UserID == userID && bytes.Equal(session.RefreshTokenHash, refreshHash) {
			s := session
			return &s, nil
		}
	}
	return nil, nil
}

func (m Sessions) ListByUser(_ context.Context, userID string) ([]models.Session, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	now := time.Now()
	out := []models.Session{}
	for _, session := range m.db.sessions {
		if session.UserID == userID && !session.Expired(now) {
			out = append(out, session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeenAt.After(out[j].LastSeenAt) })
	return out, nil
}

func (m Sessions) CountByUser(_ context.Context, userID string) (int, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	n := 0
	for _, session := range m.db.sessions {
		if session.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (m Sessions) CountActive(_ context.Context) (int, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	now := time.Now()
	n := 0
	for _, session := range m.db.sessions {
		if !session.Expired(now) {
			n++
		}
	}
	return n, nil
}

func (m Sessions) DeleteByID(_ context.Context, userID string, id string) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	session, ok := m.db.sessions[id]
	if !ok || session.UserID != userID {
		return repository.ErrSessionNotFound
	}
	delete(m.db.sessions, id)
	return nil
}

func (m Sessions) DeleteByRefreshHash(_ context.Context, userID string, refreshHash []byte) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for id, session := range m.db.sessions {
		if session.UserID == userID && bytes.Equal(session.RefreshTokenHash, refreshHash) {
			delete(m.db.sessions, id)
		}
	}
	return nil
}

func (m Sessions) DeleteAllForUser(_ context.Context, userID string) (int64, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var n int64
	for id, session := range m.db.sessions {
		if session.UserID == userID {
			delete(m.db.sessions, id)
			n++
		}
	}
	return n, nil
}

func (m Sessions) DeleteOldestSessions(_ context.Context, userID string, keepLatest int) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	owned := []models.Session{}
	for _, session := range m.db.sessions {
		if session.UserID == userID {
			owned = append(owned, session)
		}
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].LastSeenAt.After(owned[j].LastSeenAt) })
	for i := keepLatest; i < len(owned); i++ {
		delete(m.db.sessions, owned[i].ID)
	}
	return nil
}

func (m Sessions) Touch(_ context.Context, sessionID string, ip string, userAgent string) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	session, ok := m.db.sessions[sessionID]
	if !ok {
		return nil
	}
	session.LastSeenAt = time.Now()
	if ip != "" {
		session.IPAddress = ip
	}
	if userAgent != "" {
		session.UserAgent = userAgent
	}
	m.db.sessions[sessionID] = session
	return nil
}

type Tokens struct{ db *Store }

func (m Tokens) Create(_ context.Context, token models.VerificationToken) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for key, existing := range m.db.tokens {
		if existing.UserID == token.UserID && existing.Purpose == token.Purpose {
			delete(m.db.tokens, key)
		}
	}
	m.db.tokens[string(token.TokenHash)] = token
	return nil
}

func (m Tokens) Consume(ctx context.Context, tokenHash []byte, purpose models.TokenPurpose, apply func(ctx context.Context, userID string) error) error {
	m.db.mu.Lock()
	token, ok := m.db.tokens[string(tokenHash)]
	if !ok || token.Purpose != purpose || !time.Now().Before(token.ExpiresAt) {
		m.db.mu.Unlock()
		return repository.ErrTokenNotFound
	}
	delete(m.db.tokens, string(tokenHash))
	m.db.mu.Unlock()

	if err := apply(ctx, token.UserID); err != nil {
		m.db.mu.Lock()
		m.db.tokens[string(tokenHash)] = token
		m.db.mu.Unlock()
		return err
	}
	return nil
}

// TxRunner runs fn directly; the store has no rollback.
type TxRunner struct{}

func (TxRunner) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type ReplayGuard struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (r *ReplayGuard) Claim(_ context.Context, key string, _ time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen == nil {
		r.seen = make(map[string]bool)
	}
	if r.seen[key] {
		return false, nil
	}
	r.seen[key] = true
	return true, nil
}

func (m Tokens) DeleteAllForUser(_ context.Context, userID string) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for key, token := range m.db.tokens {
		if token.UserID == userID {
			delete(m.db.tokens, key)
		}
	}
	return nil
}

// TokenCount reports how many unconsumed tokens the user holds.
func (s *Store) TokenCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, token := range s.tokens {
		if token.UserID == userID {
			n++
		}
	}
	return n
}
