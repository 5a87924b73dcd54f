package failure

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorMatching(t *testing.T) {
	err := fmt.Errorf("login: %w", New(KindAuthenticationFailed, ReasonLocked, "Zu viele Fehlversuche"))

	require.True(t, errors.Is(err, ErrAuthenticationFailed))
	require.True(t, errors.Is(err, &Error{Kind: KindAuthenticationFailed, Reason: ReasonLocked}))
	require.False(t, errors.Is(err, &Error{Kind: KindAuthenticationFailed, Reason: ReasonManualTanRequired}))
	require.False(t, errors.Is(err, ErrChallengeTimeout))
	require.Equal(t, KindAuthenticationFailed, KindOf(err))
	require.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}

func TestErrorMessage(t *testing.T) {
	err := New(KindExportBlocked, ReasonManualTanRequired, "TAN erforderlich")
	require.Equal(t, "ExportBlocked(manual_tan_required): TAN erforderlich", err.Error())

	wrapped := Wrap(KindUpstreamHTTPError, ReasonUpstreamHTTP, errors.New("connection reset"))
	require.Equal(t, "UpstreamHTTPError(upstream_http): connection reset", wrapped.Error())
	require.ErrorContains(t, wrapped, "connection reset")
}
