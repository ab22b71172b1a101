package repo

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/juanvelozo/gaston-server/internal/models"
)

var (
	ErrNotFound       = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already registered")
	ErrStale          = errors.New("refresh token hash changed concurrently")
)

// HashFields is a partial update of the two secret columns. Nil pointers leave
// a column untouched. IfRefreshTokenHash makes the write conditional on the
// stored refresh digest still being that value.
type HashFields struct {
	PasswordHash       *string
	RefreshTokenHash   *string
	ClearRefreshToken  bool
	IfRefreshTokenHash *string
}

// UserStore is the credential store the session manager depends on.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id uint) (*models.User, error)
	Create(ctx context.Context, u *models.User) error
	UpdateHashFields(ctx context.Context, id uint, f HashFields) (*models.User, error)
}

type GormRepo struct {
	DB *gorm.DB
}

func New(db *gorm.DB) *GormRepo {
	return &GormRepo{DB: db}
}

var _ UserStore = (*GormRepo)(nil)

func (r *GormRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.DB.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *GormRepo) FindByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := r.DB.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// Create inserts u and fills in its ID. A unique index violation on email
// becomes ErrDuplicateEmail.
func (r *GormRepo) Create(ctx context.Context, u *models.User) error {
	if err := r.DB.WithContext(ctx).Create(u).Error; err != nil {
		if isDuplicate(err) {
			return ErrDuplicateEmail
		}
		return err
	}
	return nil
}

// UpdateHashFields applies f to user id in one transaction and returns the
// reloaded row.
func (r *GormRepo) UpdateHashFields(ctx context.Context, id uint, f HashFields) (*models.User, error) {
	updates := map[string]any{}
	if f.PasswordHash != nil {
		updates["password_hash"] = *f.PasswordHash
	}
	switch {
	case f.ClearRefreshToken:
		updates["refresh_token_hash"] = gorm.Expr("NULL")
	case f.RefreshTokenHash != nil:
		updates["refresh_token_hash"] = *f.RefreshTokenHash
	}

	var user models.User
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(updates) > 0 {
			q := tx.Model(&models.User{}).Where("id = ?", id)
			if f.IfRefreshTokenHash != nil {
				q = q.Where("refresh_token_hash = ?", *f.IfRefreshTokenHash)
			}
			res := q.Updates(updates)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return r.missOrStale(tx, id, f.IfRefreshTokenHash != nil)
			}
		}

		if err := tx.First(&user, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// missOrStale tells a missing row apart from a failed precondition after an
// update touched nothing.
func (r *GormRepo) missOrStale(tx *gorm.DB, id uint, conditional bool) error {
	var count int64
	if err := tx.Model(&models.User{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	if conditional {
		return ErrStale
	}
	return nil
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") || strings.Contains(msg, "duplicate key")
}
