package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// StringArray is an ordered list of opaque strings stored as a text[] literal.
// Encoding and parsing follow pq.StringArray, so elements holding commas,
// quotes or braces round-trip unchanged.
type StringArray []string

// Scan implements the sql.Scanner interface
func (s *StringArray) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*s = StringArray{}
		return nil
	case []byte:
		if len(v) > 0 && v[0] == '[' {
			var arr []string
			if err := json.Unmarshal(v, &arr); err != nil {
				return fmt.Errorf("failed to decode string array: %w", err)
			}
			*s = arr
			return nil
		}
	}

	var arr pq.StringArray
	if err := arr.Scan(value); err != nil {
		return err
	}
	*s = StringArray(arr)
	if *s == nil {
		*s = StringArray{}
	}
	return nil
}

// Value implements the driver.Valuer interface
func (s StringArray) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "{}", nil
	}
	return pq.StringArray(s).Value()
}

// GormDBDataType keeps native arrays on postgres and plain text elsewhere
func (StringArray) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "text[]"
	}
	return "text"
}

// Platform is a target social network. The set is closed.
type Platform string

const (
	PlatformTikTok    Platform = "tiktok"
	PlatformInstagram Platform = "instagram"
	PlatformYouTube   Platform = "youtube"
	PlatformTwitter   Platform = "twitter"
	PlatformFacebook  Platform = "facebook"
)

// AllPlatforms lists every supported platform in display order
var AllPlatforms = []Platform{
	PlatformTikTok,
	PlatformInstagram,
	PlatformYouTube,
	PlatformTwitter,
	PlatformFacebook,
}

func (p Platform) Valid() bool {
	switch p {
	case PlatformTikTok, PlatformInstagram, PlatformYouTube, PlatformTwitter, PlatformFacebook:
		return true
	}
	return false
}

// ParsePlatform accepts a case-insensitive platform name
func ParsePlatform(name string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(name)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown platform %q", name)
	}
	return p, nil
}

// ErrorClass tells the dispatcher whether a publish failure may be retried
type ErrorClass string

const (
	ErrorClassNone      ErrorClass = ""
	ErrorClassTransient ErrorClass = "transient"
	ErrorClassPermanent ErrorClass = "permanent"
)
