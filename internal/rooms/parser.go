package rooms

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"voiceloft/internal/platform"
)

var (
	commandPattern = regexp.MustCompile(`^!(\w+)`)
	userPattern    = regexp.MustCompile(`^(?:<@(\d+)>|(\d+))`)
	numberPattern  = regexp.MustCompile(`^\d+(?:\.\d+)?`)
)

var (
	errBadCommand = errors.New("invalid command")
	errBadUserID  = errors.New("invalid user reference")
	errBadNumber  = errors.New("invalid number argument")
)

// UserResolver resolves a user ID to a live community member.
type UserResolver func(ctx context.Context, id string) (platform.Member, error)

// Parser is a left-to-right cursor over raw command text. Each matcher
// consumes the token it recognises and fails without advancing otherwise.
type Parser struct {
	raw       string
	cursor    int
	invokerID string
	resolve   UserResolver
	ignore    map[string]struct{}
}

// NewParser wraps raw command text. resolve and ignore feed the User matcher;
// both may be nil when user arguments are not expected.
func NewParser(raw, invokerID string, resolve UserResolver, ignore map[string]struct{}) *Parser {
	return &Parser{raw: raw, invokerID: invokerID, resolve: resolve, ignore: ignore}
}

func (p *Parser) rest() string {
	if p.cursor >= len(p.raw) {
		return ""
	}
	return p.raw[p.cursor:]
}

// Skip consumes leading whitespace. It never fails.
func (p *Parser) Skip() {
	for p.cursor < len(p.raw) && unicode.IsSpace(rune(p.raw[p.cursor])) {
		p.cursor++
	}
}

// Command matches a leading !word token and returns the bare command name.
func (p *Parser) Command() (string, error) {
	p.Skip()
	match := commandPattern.FindStringSubmatch(p.rest())
	if match == nil {
		return "", errBadCommand
	}
	p.cursor += len(match[0])
	return match[1], nil
}

// UserID matches a platform user-mention token or a bare numeric ID.
func (p *Parser) UserID() (string, error) {
	p.Skip()
	match := userPattern.FindStringSubmatch(p.rest())
	if match == nil {
		return "", errBadUserID
	}
	p.cursor += len(match[0])
	if match[1] != "" {
		return match[1], nil
	}
	return match[2], nil
}

// Literal consumes the given word when it appears at the cursor as a whole
// token, reporting whether it matched.
func (p *Parser) Literal(word string) bool {
	p.Skip()
	rest := p.rest()
	if !strings.HasPrefix(rest, word) {
		return false
	}
	if len(rest) > len(word) && !unicode.IsSpace(rune(rest[len(word)])) {
		return false
	}
	p.cursor += len(word)
	return true
}

// NumberOpts configures the Number matcher.
type NumberOpts struct {
	// Default is returned when no numeric token is present. Nil means the
	// argument is required.
	Default *float64
	// Integer rejects non-integral values.
	Integer bool
}

// Number matches an optional-decimal numeric token.
func (p *Parser) Number(opts NumberOpts) (float64, error) {
	p.Skip()
	match := numberPattern.FindString(p.rest())
	if match == "" {
		if opts.Default != nil {
			return *opts.Default, nil
		}
		return 0, errBadNumber
	}
	p.cursor += len(match)
	value, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, errBadNumber
	}
	if opts.Integer && value != math.Trunc(value) {
		return 0, errors.New("argument must be a whole number")
	}
	return value, nil
}

// UserOpts configures the User matcher.
type UserOpts struct {
	NotMe      bool
	NotBot     bool
	NotIgnored bool
}

// User parses a user reference and resolves it to a live community member,
// applying the configured rejections.
func (p *Parser) User(ctx context.Context, opts UserOpts) (platform.Member, error) {
	id, err := p.UserID()
	if err != nil {
		return platform.Member{}, err
	}
	if p.resolve == nil {
		return platform.Member{}, errors.New("user lookup is unavailable")
	}
	member, err := p.resolve(ctx, id)
	if errors.Is(err, platform.ErrNotFound) {
		return platform.Member{}, errors.New("the specified user was not found")
	}
	if err != nil {
		return platform.Member{}, fmt.Errorf("look up user: %w", err)
	}
	if opts.NotMe && member.ID == p.invokerID {
		return platform.Member{}, errors.New("you cannot target yourself")
	}
	if opts.NotBot && member.Bot {
		return platform.Member{}, errors.New("you cannot target a bot")
	}
	if opts.NotIgnored {
		if _, ignored := p.ignore[member.ID]; ignored {
			return platform.Member{}, errors.New("this user is not eligible")
		}
	}
	return member, nil
}
