package validation

import (
	"context"

	"quill/internal/repository"
)

// Errors maps a form field name to its validation message.
type Errors map[string]string

// Any reports whether any field failed validation.
func (e Errors) Any() bool { return len(e) > 0 }

// Get returns the message for a field, empty when the field is valid.
func (e Errors) Get(field string) string { return e[field] }

// RegistrationForm carries the submitted registration fields.
type RegistrationForm struct {
	Username string
	Email    string
	Password string
	Confirm  string
}

// Validate runs field checks and uniqueness checks against existing users.
// The returned error is only non-nil for repository failures.
func (f *RegistrationForm) Validate(ctx context.Context, users repository.UserRepository) (Errors, error) {
	errs := Errors{}

	if err := ValidateUsername(f.Username); err != nil {
		errs["username"] = err.Error()
	}
	if err := ValidateEmail(f.Email); err != nil {
		errs["email"] = err.Error()
	}
	if err := ValidatePassword(f.Password); err != nil {
		errs["password"] = err.Error()
	}
	if f.Confirm != f.Password {
		errs["confirm"] = "passwords do not match"
	}

	if _, taken := errs["username"]; !taken {
		existing, err := users.GetByUsername(ctx, f.Username)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			errs["username"] = "that username is taken, please choose a different one"
		}
	}
	if _, taken := errs["email"]; !taken {
		existing, err := users.GetByEmail(ctx, f.Email)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			errs["email"] = "that email is taken, please choose a different one"
		}
	}

	return errs, nil
}

// LoginForm carries the submitted login fields.
type LoginForm struct {
	Email    string
	Password string
	Remember bool
}

// Validate checks field presence and shape; credentials are checked by the handler.
func (f *LoginForm) Validate() Errors {
	errs := Errors{}
	if err := ValidateEmail(f.Email); err != nil {
		errs["email"] = err.Error()
	}
	if f.Password == "" {
		errs["password"] = "password is required"
	}
	return errs
}

// AccountForm carries the submitted account-update fields.
type AccountForm struct {
	Username string
	Email    string
}

// Validate runs field checks plus uniqueness checks that exclude the current user.
func (f *AccountForm) Validate(ctx context.Context, users repository.UserRepository, currentUserID uint) (Errors, error) {
	errs := Errors{}

	if err := ValidateUsername(f.Username); err != nil {
		errs["username"] = err.Error()
	}
	if err := ValidateEmail(f.Email); err != nil {
		errs["email"] = err.Error()
	}

	if _, taken := errs["username"]; !taken {
		existing, err := users.GetByUsername(ctx, f.Username)
		if err != nil {
			return nil, err
		}
		if existing != nil && existing.ID != currentUserID {
			errs["username"] = "that username is taken, please choose a different one"
		}
	}
	if _, taken := errs["email"]; !taken {
		existing, err := users.GetByEmail(ctx, f.Email)
		if err != nil {
			return nil, err
		}
		if existing != nil && existing.ID != currentUserID {
			errs["email"] = "that email is taken, please choose a different one"
		}
	}

	return errs, nil
}

// PostForm carries the submitted post fields for create and update.
type PostForm struct {
	Title   string
	Content string
}

// Validate checks title and content bounds.
func (f *PostForm) Validate() Errors {
	errs := Errors{}
	if err := ValidatePostTitle(f.Title); err != nil {
		errs["title"] = err.Error()
	}
	if err := ValidatePostContent(f.Content); err != nil {
		errs["content"] = err.Error()
	}
	return errs
}

// ResetRequestForm carries the email used to request a password reset.
type ResetRequestForm struct {
	Email string
}

// Validate checks the email shape only; existence is checked by the handler.
func (f *ResetRequestForm) Validate() Errors {
	errs := Errors{}
	if err := ValidateEmail(f.Email); err != nil {
		errs["email"] = err.Error()
	}
	return errs
}

// ResetPasswordForm carries the new password pair submitted with a reset token.
type ResetPasswordForm struct {
	Password string
	Confirm  string
}

// Validate checks password shape and confirmation equality.
func (f *ResetPasswordForm) Validate() Errors {
	errs := Errors{}
	if err := ValidatePassword(f.Password); err != nil {
		errs["password"] = err.Error()
	}
	if f.Confirm != f.Password {
		errs["confirm"] = "passwords do not match"
	}
	return errs
}
