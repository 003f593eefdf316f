package domain

import "time"

// Metodos de autenticacion base; los proveedores OAuth aportan su propio nombre
// (google, github, ...) como metodo adicional.
const (
	MethodPassword  = "password"
	MethodMagicLink = "magic-link"
)

// User es el registro de identidad anclado al correo electronico.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name,omitempty"`
	PasswordHash string    `json:"-"`
	AuthMethods  []string  `json:"auth_methods"`
	Provider     string    `json:"provider,omitempty"`
	ProviderID   string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// HasMethod indica si el usuario ya establecio el metodo dado.
func (u User) HasMethod(method string) bool {
	for _, m := range u.AuthMethods {
		if m == method {
			return true
		}
	}
	return false
}

// WithoutSecret devuelve una copia sin el hash de contraseña.
func (u User) WithoutSecret() User {
	u.PasswordHash = ""
	return u
}
