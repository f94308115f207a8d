// Package users loads the static users file: the set of broadcasters the bot
// serves, with their per-channel feature flags and profile links. The file is
// read once at startup; a malformed file is an error the caller should treat
// as fatal.
package users

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Location identifies a place weather can be fetched for.
type Location struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// User is one configured broadcaster. Handle is required; everything else is
// optional and gates individual chat commands.
type User struct {
	Handle          string    `json:"handle"`
	Discord         string    `json:"discord"`
	Twitter         string    `json:"twitter"`
	SpeedrunProfile string    `json:"speedrunProfile"`
	TimeZone        string    `json:"timeZone"`
	Location        *Location `json:"location"`

	AnalogueEnabled bool `json:"analogueEnabled"`
	WeatherEnabled  bool `json:"weatherEnabled"`
	EsWotdEnabled   bool `json:"esWordOfTheDayEnabled"`
	JaWotdEnabled   bool `json:"jaWordOfTheDayEnabled"`
	ZhWotdEnabled   bool `json:"zhWordOfTheDayEnabled"`

	loc *time.Location
}

// TimeLocation returns the user's IANA time zone, or nil when none is
// configured.
func (u *User) TimeLocation() *time.Location { return u.loc }

// Repository holds the loaded user set, keyed by lower-cased handle.
type Repository struct {
	users  []*User
	byName map[string]*User
}

type usersFile struct {
	Users []*User `json:"users"`
}

// LoadFile reads and validates the users file at path.
func LoadFile(path string) (*Repository, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read users file %s: %w", path, err)
	}
	var f usersFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse users file %s: %w", path, err)
	}
	if len(f.Users) == 0 {
		return nil, fmt.Errorf("users file %s has no users", path)
	}

	repo := &Repository{byName: make(map[string]*User, len(f.Users))}
	for _, u := range f.Users {
		handle := strings.TrimSpace(u.Handle)
		if handle == "" {
			return nil, fmt.Errorf("users file %s has a user with a blank handle", path)
		}
		key := strings.ToLower(handle)
		if _, dup := repo.byName[key]; dup {
			return nil, fmt.Errorf("users file %s lists handle %q twice", path, handle)
		}
		if u.TimeZone != "" {
			loc, err := time.LoadLocation(u.TimeZone)
			if err != nil {
				return nil, fmt.Errorf("user %q has invalid time zone %q: %w", handle, u.TimeZone, err)
			}
			u.loc = loc
		}
		if u.WeatherEnabled && u.Location == nil {
			return nil, fmt.Errorf("user %q has weather enabled but no location", handle)
		}
		repo.users = append(repo.users, u)
		repo.byName[key] = u
	}
	return repo, nil
}

// Users returns every configured user in file order.
func (r *Repository) Users() []*User { return r.users }

// Handles returns every configured handle in file order.
func (r *Repository) Handles() []string {
	out := make([]string, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u.Handle)
	}
	return out
}

// User looks up a user by handle, case-insensitively.
func (r *Repository) User(handle string) (*User, bool) {
	u, ok := r.byName[strings.ToLower(handle)]
	return u, ok
}
