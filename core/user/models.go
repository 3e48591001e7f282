package user

import (
	"strconv"
	"strings"

	"github.com/trezcool/masomo-client/core"
)

// Roles, by decreasing priority.
const (
	RoleSuperuser = "superuser"
	RoleStaff     = "staff"
	RoleTeacher   = "teacher"
	RoleStudent   = "student"
)

// Profile is the authenticated user as returned by the profile endpoint.
type Profile struct {
	ID          int    `json:"id"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	Surname     string `json:"surname"`
	IsTeacher   bool   `json:"is_teacher"`
	IsStaff     bool   `json:"is_staff"`
	IsSuperuser bool   `json:"is_superuser"`
}

func (p Profile) IDString() string {
	return strconv.Itoa(p.ID)
}

func (p Profile) FullName() string {
	return strings.TrimSpace(p.Name + " " + p.Surname)
}

// Role returns the highest role held by the user.
func (p Profile) Role() string {
	switch {
	case p.IsSuperuser:
		return RoleSuperuser
	case p.IsStaff:
		return RoleStaff
	case p.IsTeacher:
		return RoleTeacher
	default:
		return RoleStudent
	}
}

// LoginForm contains the credentials exchanged for a token pair.
type LoginForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (lf *LoginForm) Validate() error {
	lf.Email = core.CleanString(lf.Email, true /* lower */)
	return core.ValidateStruct(lf)
}

// NewUser contains information needed to register a new account.
type NewUser struct {
	Name      string `json:"name" validate:"required,max=30"`
	Surname   string `json:"surname" validate:"omitempty,max=30"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	IsTeacher bool   `json:"is_teacher"`
}

func (nu *NewUser) Validate() error {
	nu.Name = core.CleanString(nu.Name)
	nu.Surname = core.CleanString(nu.Surname)
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	return core.ValidateStruct(nu)
}
