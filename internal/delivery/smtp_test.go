package delivery

import (
	"errors"
	"fmt"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifySMTP4xxIsTransient(t *testing.T) {
	err := classify(&textproto.Error{Code: 450, Msg: "mailbox busy"})
	assert.ErrorIs(t, err, ErrTransient)
}

func TestClassifySMTP5xxIsPermanent(t *testing.T) {
	err := classify(&textproto.Error{Code: 550, Msg: "no such user"})
	assert.ErrorIs(t, err, ErrPermanent)
}

func TestClassifyNetErrorIsTransient(t *testing.T) {
	err := classify(fmt.Errorf("dial: %w", errTimeout{}))
	assert.ErrorIs(t, err, ErrTransient)
}

func TestClassifyUnknownErrorIsPermanent(t *testing.T) {
	err := classify(errors.New("totally unexpected"))
	assert.ErrorIs(t, err, ErrPermanent)
}

func TestOutcomeLabel(t *testing.T) {
	assert.Equal(t, "ok", outcomeLabel(nil))
	assert.Equal(t, "permanent", outcomeLabel(fmt.Errorf("%w: no such user", ErrPermanent)))
	assert.Equal(t, "transient", outcomeLabel(fmt.Errorf("%w: mailbox busy", ErrTransient)))
}

type errTimeout struct{}

func (errTimeout) Error() string   { return "i/o timeout" }
func (errTimeout) Timeout() bool   { return true }
func (errTimeout) Temporary() bool { return true }
