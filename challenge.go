package zkshare

import (
	"context"
	"crypto/rand"
	"crypto/sha512"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/nacl/sign"
)

// The relay hands out a signed hashcash challenge per channel before it accepts a
// subscription. Short codes are only a few characters long, so each guess at a
// channel name has to cost the guesser some work.

const challengeLength = 256

// ChallengeWindow is how long a solved challenge may be presented.
const ChallengeWindow = 30 * time.Second

// MaxComplexity bounds the number of leading zero bits a challenge may demand.
const MaxComplexity = 32

var ErrChallengeExpired error = errors.New("challenge expired")
var ErrChallengeInvalid error = errors.New("invalid challenge response")

// NewChallenge generates a new, random challenge bound to a channel name.
func NewChallenge(complexity int, channel string, privateSignKey []byte) (*ChallengeRequest, error) {
	if complexity < 0 || complexity > MaxComplexity {
		return nil, fmt.Errorf("challenge complexity %d out of range", complexity)
	}

	challenge := Challenge{
		Version:    1,
		Complexity: complexity,
		Timestamp:  time.Now().Unix(),
		Channel:    channel,
		Challenge:  make([]byte, challengeLength),
	}

	if _, err := rand.Read(challenge.Challenge); err != nil {
		return nil, fmt.Errorf("unable to read random challenge: %w", err)
	}

	challengejs, err := json.Marshal(challenge)
	if err != nil {
		return nil, fmt.Errorf("unable to marshal challenge: %w", err)
	}

	return &ChallengeRequest{
		Challenge: sign.Sign(nil, challengejs, To64(privateSignKey)),
	}, nil
}

// validateSolution reports whether the first complexity bits of the hash are zero.
func validateSolution(complexity int, hash []byte) bool {
	solution := binary.BigEndian.Uint64(hash)

	// For complexity=5 the mask is 111110000000...
	mask := ^(^uint64(0) >> complexity)

	return (solution & mask) == 0
}

// ValidateResponse checks the signature, age, channel binding and proof of work
// of a challenge response.
func ValidateResponse(response *ChallengeResponse, channel string, publicSignKey []byte) error {
	if response == nil {
		return ErrChallengeInvalid
	}

	challengeBytes, ok := sign.Open(nil, response.Challenge, To32(publicSignKey))
	if !ok {
		return fmt.Errorf("%w: bad signature", ErrChallengeInvalid)
	}

	var challenge Challenge
	if err := json.Unmarshal(challengeBytes, &challenge); err != nil {
		return fmt.Errorf("unable to unmarshal challenge: %w", err)
	}

	if len(challenge.Challenge) != challengeLength {
		return fmt.Errorf("%w: length %d; expected %d", ErrChallengeInvalid, len(challenge.Challenge), challengeLength)
	}

	if challenge.Version != 1 {
		return fmt.Errorf("%w: version %d", ErrChallengeInvalid, challenge.Version)
	}

	if challenge.Channel != channel {
		return fmt.Errorf("%w: issued for another channel", ErrChallengeInvalid)
	}

	delta := time.Now().Unix() - challenge.Timestamp
	if delta < 0 || delta > int64(ChallengeWindow/time.Second) {
		return ErrChallengeExpired
	}

	if !validateSolution(challenge.Complexity, HashWithNonce(challenge.Challenge, response.Nonce)) {
		return ErrChallengeInvalid
	}

	return nil
}

func HashWithNonce(challenge []byte, nonce uint64) []byte {
	nonceSlice := make([]byte, 8)
	binary.BigEndian.PutUint64(nonceSlice, nonce)

	hash := sha512.New()
	hash.Write(nonceSlice)
	hash.Write(challenge)
	return hash.Sum(nil)
}

// SolveChallenge searches for a nonce that satisfies the request. The search stops
// early if ctx is cancelled.
func SolveChallenge(ctx context.Context, request *ChallengeRequest) (*ChallengeResponse, error) {
	if len(request.Challenge) < sign.Overhead {
		return nil, ErrChallengeInvalid
	}

	// Only the relay cares about the signature.
	challengeBytes := request.Challenge[sign.Overhead:]

	var challenge Challenge
	if err := json.Unmarshal(challengeBytes, &challenge); err != nil {
		return nil, fmt.Errorf("unable to unmarshal challenge: %w", err)
	}

	if challenge.Complexity > MaxComplexity {
		return nil, fmt.Errorf("%w: complexity %d", ErrChallengeInvalid, challenge.Complexity)
	}

	for nonce := uint64(0); nonce < 1<<40; nonce++ {
		if nonce&0xffff == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		if validateSolution(challenge.Complexity, HashWithNonce(challenge.Challenge, nonce)) {
			return &ChallengeResponse{
				Challenge: request.Challenge,
				Nonce:     nonce,
			}, nil
		}
	}

	return nil, fmt.Errorf("%w: no nonce found", ErrChallengeInvalid)
}
