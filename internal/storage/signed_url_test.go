package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignedURLSignerGenerateAndParse(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, expiresAt, err := signer.Generate("40/attachments/7/notes.pdf")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.False(t, expiresAt.IsZero())

	handle, err := signer.Parse(token)
	require.NoError(t, err)
	require.Equal(t, "40/attachments/7/notes.pdf", handle)
}

func TestSignedURLSignerExpired(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Minute)
	base := time.Unix(1_700_000_000, 0)
	signer.now = func() time.Time { return base }
	token, _, err := signer.Generate("40/attachments/7/notes.pdf")
	require.NoError(t, err)

	signer.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, err = signer.Parse(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestSignedURLSignerRejectsTampering(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, _, err := signer.Generate("40/attachments/7/notes.pdf")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	parts[1] = "NDAvaW50ZXJuYWxfYXR0YWNobWVudHMvNy9ub3Rlcy5wZGY"
	_, err = signer.Parse(strings.Join(parts, "."))
	require.ErrorIs(t, err, ErrInvalidToken)

	other := NewSignedURLSigner("other-secret", time.Hour)
	_, err = other.Parse(token)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = signer.Parse("garbage")
	require.ErrorIs(t, err, ErrInvalidToken)
}
