package services

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"saldo/internal/core"
	"saldo/internal/log"
	"saldo/internal/storage"
)

const (
	DefaultDateFormat = "MM/DD/YYYY"
	DefaultLanguage   = "en"
	DefaultCurrency   = "USD"

	minPasswordLength = 8
	// bcrypt ignores everything past 72 bytes.
	maxPasswordLength = 72
)

// ErrInvalidCredentials is returned for an unknown email or a wrong password.
var ErrInvalidCredentials = errors.New("invalid email or password")

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

var dateFormats = map[string]bool{
	"MM/DD/YYYY": true,
	"DD/MM/YYYY": true,
	"YYYY-MM-DD": true,
}

type RegisterInput struct {
	Name              string
	Email             string
	Password          string
	PreferredCurrency string
	DateFormat        string
	Language          string
}

// ProfilePatch lists the profile fields to change; nil keeps the stored value.
type ProfilePatch struct {
	Name              *string
	Email             *string
	Password          *string
	PreferredCurrency *string
	DateFormat        *string
	Language          *string
}

type Users struct {
	store      Store
	currencies *Currencies
	cost       int
	logger     *log.Logger
}

func NewUsers(store Store, currencies *Currencies, logger *log.Logger) *Users {
	return &Users{
		store:      store,
		currencies: currencies,
		cost:       bcrypt.DefaultCost,
		logger:     catalogLogger(logger).WithComponent(log.ComponentAuth),
	}
}

// WithHashCost overrides the bcrypt cost; tests use bcrypt.MinCost.
func (s *Users) WithHashCost(cost int) *Users {
	s.cost = cost
	return s
}

const userColumns = `SELECT id, name, email, password_hash, preferred_currency,
	preferred_date_format, preferred_language, created_at FROM users`

func scanUser(rs interface{ Scan(...any) error }) (core.User, error) {
	var (
		u       core.User
		created string
	)
	err := rs.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.PreferredCurrency,
		&u.PreferredDateFormat, &u.PreferredLanguage, &created)
	if err != nil {
		return u, err
	}
	u.CreatedAt = storage.ParseTimestamp(created)
	return u, nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !emailPattern.MatchString(email) {
		return "", core.Invalid("invalid email format")
	}
	return email, nil
}

func checkPassword(pw string) error {
	if len(pw) < minPasswordLength {
		return core.Invalid("password must be at least %d characters long", minPasswordLength)
	}
	if len(pw) > maxPasswordLength {
		return core.Invalid("password must be at most %d bytes long", maxPasswordLength)
	}
	var upper, lower, digit, special bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}
	if !upper || !lower || !digit || !special {
		return core.Invalid("password must contain an uppercase letter, a lowercase letter, a number and a special character")
	}
	return nil
}

func (s *Users) checkPreferences(ctx context.Context, currency, dateFormat *string) error {
	if currency != nil {
		code, err := s.currencies.Validate(ctx, *currency)
		if err != nil {
			return err
		}
		*currency = code
	}
	if dateFormat != nil && !dateFormats[*dateFormat] {
		return core.Invalid("unsupported date format %q", *dateFormat)
	}
	return nil
}

// Register creates a user with a bcrypt password hash.
func (s *Users) Register(ctx context.Context, in RegisterInput) (core.User, error) {
	name, err := cleanName(in.Name, "user")
	if err != nil {
		return core.User{}, err
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return core.User{}, err
	}
	if err := checkPassword(in.Password); err != nil {
		return core.User{}, err
	}

	if in.PreferredCurrency == "" {
		in.PreferredCurrency = DefaultCurrency
	}
	if in.DateFormat == "" {
		in.DateFormat = DefaultDateFormat
	}
	if in.Language == "" {
		in.Language = DefaultLanguage
	}
	if err := s.checkPreferences(ctx, &in.PreferredCurrency, &in.DateFormat); err != nil {
		return core.User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return core.User{}, core.Internal(err, "hash password")
	}

	now := storage.Now()
	res, err := s.store.ExecContext(ctx, `
		INSERT INTO users (name, email, password_hash, preferred_currency, preferred_date_format, preferred_language, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		name, email, string(hash), in.PreferredCurrency, in.DateFormat, in.Language, now, now)
	if storage.IsUniqueViolation(err) {
		return core.User{}, core.Invalid("email is already in use")
	}
	if err != nil {
		return core.User{}, core.Internal(err, "insert user")
	}
	id, err := storage.LastInsertID(res)
	if err != nil {
		return core.User{}, core.Internal(err, "insert user")
	}

	s.logger.InfoContext(ctx, "User registered", log.FieldUserID, id)
	return s.Get(ctx, id)
}

// Authenticate checks an email and password pair.
func (s *Users) Authenticate(ctx context.Context, email, password string) (core.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := scanUser(s.store.QueryRowContext(ctx, userColumns+` WHERE email = ?`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return core.User{}, core.Internal(err, "load user")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return core.User{}, ErrInvalidCredentials
		}
		return core.User{}, core.Internal(err, "verify password")
	}
	return u, nil
}

func (s *Users) Get(ctx context.Context, id int64) (core.User, error) {
	u, err := scanUser(s.store.QueryRowContext(ctx, userColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, core.NotFound("user %d not found", id)
	}
	if err != nil {
		return core.User{}, core.Internal(err, "load user %d", id)
	}
	return u, nil
}

// UpdateProfile applies p to the user's profile.
func (s *Users) UpdateProfile(ctx context.Context, id int64, p ProfilePatch) (core.User, error) {
	var (
		sets []string
		args []any
	)
	if p.Name != nil {
		name, err := cleanName(*p.Name, "user")
		if err != nil {
			return core.User{}, err
		}
		sets, args = append(sets, "name = ?"), append(args, name)
	}
	if p.Email != nil {
		email, err := normalizeEmail(*p.Email)
		if err != nil {
			return core.User{}, err
		}
		sets, args = append(sets, "email = ?"), append(args, email)
	}
	if p.Password != nil {
		if err := checkPassword(*p.Password); err != nil {
			return core.User{}, err
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(*p.Password), s.cost)
		if err != nil {
			return core.User{}, core.Internal(err, "hash password")
		}
		sets, args = append(sets, "password_hash = ?"), append(args, string(hash))
	}
	if err := s.checkPreferences(ctx, p.PreferredCurrency, p.DateFormat); err != nil {
		return core.User{}, err
	}
	if p.PreferredCurrency != nil {
		sets, args = append(sets, "preferred_currency = ?"), append(args, *p.PreferredCurrency)
	}
	if p.DateFormat != nil {
		sets, args = append(sets, "preferred_date_format = ?"), append(args, *p.DateFormat)
	}
	if p.Language != nil {
		lang := strings.TrimSpace(*p.Language)
		if lang == "" {
			return core.User{}, core.Invalid("language is required")
		}
		sets, args = append(sets, "preferred_language = ?"), append(args, lang)
	}

	if _, err := s.Get(ctx, id); err != nil {
		return core.User{}, err
	}
	if len(sets) == 0 {
		return s.Get(ctx, id)
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, storage.Now(), id)
	_, err := s.store.ExecContext(ctx, `UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if storage.IsUniqueViolation(err) {
		return core.User{}, core.Invalid("email is already in use")
	}
	if err != nil {
		return core.User{}, core.Internal(err, "update user %d", id)
	}

	s.logger.InfoContext(ctx, "User profile updated", log.FieldUserID, id)
	return s.Get(ctx, id)
}

// Delete removes the user and, through cascading keys, everything they own.
func (s *Users) Delete(ctx context.Context, id int64) error {
	err := s.store.WithTx(ctx, func(q storage.Querier) error {
		if _, err := q.ExecContext(ctx, `DELETE FROM transfers WHERE event_id IN (SELECT id FROM events WHERE user_id = ?)`, id); err != nil {
			return core.Internal(err, "delete transfers of user %d", id)
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM events WHERE user_id = ?`, id); err != nil {
			return core.Internal(err, "delete events of user %d", id)
		}
		res, err := q.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
		if err != nil {
			return core.Internal(err, "delete user %d", id)
		}
		n, err := storage.RowsAffected(res)
		if err != nil {
			return core.Internal(err, "delete user %d", id)
		}
		if n == 0 {
			return core.NotFound("user %d not found", id)
		}
		return nil
	})
	if err != nil {
		return classify(err, "delete user %d", id)
	}
	s.logger.InfoContext(ctx, "User deleted", log.FieldUserID, id)
	return nil
}

// ListIDs returns every user id in ascending order.
func (s *Users) ListIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.store.QueryContext(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, core.Internal(err, "list users")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, core.Internal(err, "scan user id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Internal(err, "iterate users")
	}
	return ids, nil
}
