package notification

import (
	"io"
	"log"
	"slices"
	"strings"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/tphakala/proctor-go/internal/errors"
	"github.com/tphakala/proctor-go/internal/logger"
	"github.com/tphakala/proctor-go/internal/privacy"
)

// Sender delivers one message to every configured service.
type Sender interface {
	Send(message string, params *stypes.Params) []error
}

// NewShoutrrrSender builds a single router for all urls. Errors never echo
// the URLs since they carry service tokens.
func NewShoutrrrSender(urls []string, timeout time.Duration) (*router.ServiceRouter, error) {
	urls = slices.DeleteFunc(slices.Clone(urls), func(u string) bool { return u == "" })
	if len(urls) == 0 {
		return nil, errors.Newf("at least one notification URL is required").
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}

	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, errors.New(privacy.WrapError(err)).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Context("url_count", len(urls)).
			Build()
	}
	if timeout > 0 {
		sender.Timeout = timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))
	GetLogger().Info("push notification services configured",
		logger.String("services", strings.Join(serviceLabels(urls), ", ")))
	return sender, nil
}

// serviceLabels returns the urls reduced to scheme and host.
func serviceLabels(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		out = append(out, privacy.RedactURL(u))
	}
	return out
}

// firstError returns the first non-nil error of a router send.
func firstError(errs []error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}
