// Package parse turns raw registration answers into canonical values.
package parse

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/foospoll/foospollbot/internal/domain"
)

const (
	RatingHost    = "rtsf.ru"
	maxNameLength = 64
)

var (
	phoneRe       = regexp.MustCompile(`^(\+7|8)(\d{10})$`)
	playerPathRe  = regexp.MustCompile(`^/ratings/player/([0-9]+)$`)
	phoneStripper = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")
	titleCaser    = cases.Title(language.Russian)
)

// Name trims and title-cases a first or last name.
func Name(field, raw string) (string, error) {
	name := strings.Join(strings.Fields(raw), " ")
	if name == "" {
		return "", &domain.ValidationError{Field: field, Value: raw, Reason: "empty"}
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", &domain.ValidationError{Field: field, Value: raw, Reason: "too long"}
	}
	return titleCaser.String(name), nil
}

// Phone accepts a russian mobile number with +7 or 8 prefix in any of the usual
// punctuation styles and returns it as +7 (XXX) XXX-XX-XX.
func Phone(raw string) (string, error) {
	phone := phoneStripper.Replace(strings.TrimSpace(raw))
	m := phoneRe.FindStringSubmatch(phone)
	if m == nil {
		return "", &domain.ValidationError{Field: "phone", Value: raw, Reason: "does not match +7XXXXXXXXXX or 8XXXXXXXXXX"}
	}
	d := m[2]
	return "+7 (" + d[:3] + ") " + d[3:6] + "-" + d[6:8] + "-" + d[8:], nil
}

type RatingURL struct {
	URL      string
	PlayerID int64
}

// Rating validates a link of the form https://rtsf.ru/ratings/player/{id}.
func Rating(raw string) (RatingURL, error) {
	s := strings.TrimSpace(raw)
	u, err := url.Parse(s)
	if err != nil {
		return RatingURL{}, &domain.ValidationError{Field: "rating_url", Value: raw, Reason: err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return RatingURL{}, &domain.ValidationError{Field: "rating_url", Value: raw, Reason: "must be an http(s) link"}
	}
	if u.Host != RatingHost {
		return RatingURL{}, &domain.ValidationError{Field: "rating_url", Value: raw, Reason: "must be " + RatingHost}
	}
	m := playerPathRe.FindStringSubmatch(u.Path)
	if m == nil {
		return RatingURL{}, &domain.ValidationError{Field: "rating_url", Value: raw, Reason: "path does not match /ratings/player/{id}"}
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || id <= 0 {
		return RatingURL{}, &domain.ValidationError{Field: "rating_url", Value: raw, Reason: "bad player id"}
	}
	return RatingURL{URL: s, PlayerID: id}, nil
}
