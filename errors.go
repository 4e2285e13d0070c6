package zkshare

import "errors"

var ErrInvalidToken error = errors.New("invalid share token")
var ErrInvalidKeyFormat error = errors.New("invalid key format")
var ErrDecryptionFailed error = errors.New("decryption failed")
var ErrChannelSetupFailed error = errors.New("unable to set up channel")
var ErrExpired error = errors.New("share expired")
var ErrPeerUnavailable error = errors.New("peer unavailable")

// Describe returns the message shown to a person for an error from a share session.
func Describe(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidToken):
		return "The code is not valid. Check it and try again."
	case errors.Is(err, ErrInvalidKeyFormat):
		return "The link is incomplete or damaged."
	case errors.Is(err, ErrDecryptionFailed):
		return "Decryption failed. The key is wrong or the data was corrupted."
	case errors.Is(err, ErrChannelSetupFailed):
		return "Could not connect to the relay. Check your connection and try again."
	case errors.Is(err, ErrExpired):
		return "This share has expired. Ask for a new one."
	case errors.Is(err, ErrPeerUnavailable):
		return "The other party is no longer available."
	default:
		return err.Error()
	}
}
