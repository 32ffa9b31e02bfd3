package x402

import (
	"math/big"
	"sort"
	"strings"
)

// PaymentSelector chooses which offered PaymentMethod to satisfy and which
// configured Signer satisfies it, then produces the signed result.
type PaymentSelector interface {
	SelectAndSign(methods []PaymentMethod, signers []Signer) (*SignedAuthorization, error)
}

// DefaultPaymentSelector implements the standard selection algorithm:
//  1. filter to (method, signer) pairs where the signer can sign and the
//     method's maximum amount is within the signer's per-call limit;
//  2. sort by signer priority, then token priority within the signer;
//  3. sign with the top candidate.
type DefaultPaymentSelector struct{}

// NewDefaultPaymentSelector creates a DefaultPaymentSelector.
func NewDefaultPaymentSelector() *DefaultPaymentSelector {
	return &DefaultPaymentSelector{}
}

type requirementCandidate struct {
	method         *PaymentMethod
	signer         Signer
	signerPriority int
	tokenPriority  int
}

// SelectAndSign implements PaymentSelector.
func (s *DefaultPaymentSelector) SelectAndSign(methods []PaymentMethod, signers []Signer) (*SignedAuthorization, error) {
	if len(signers) == 0 {
		return nil, NewPaymentError(ErrCodeNoValidSigner, "no signers configured", ErrNoValidSigner)
	}
	if len(methods) == 0 {
		return nil, NewPaymentError(ErrCodeInvalidRequirements, "no payment methods offered", ErrInvalidRequirements)
	}

	var candidates []requirementCandidate
	hasValidMethod := false

	for i := range methods {
		method := &methods[i]

		maxRequired, ok := new(big.Int).SetString(method.MaximumAmount, 10)
		if !ok {
			continue
		}
		hasValidMethod = true

		for _, signer := range signers {
			if !signer.CanSign(method) {
				continue
			}
			if limit := signer.GetMaxAmount(); limit != nil && maxRequired.Cmp(limit) > 0 {
				continue
			}

			tokenPriority := 0
			for _, token := range signer.GetTokens() {
				if strings.EqualFold(token.Address, method.Asset) {
					tokenPriority = token.Priority
					break
				}
			}

			candidates = append(candidates, requirementCandidate{
				method:         method,
				signer:         signer,
				signerPriority: signer.GetPriority(),
				tokenPriority:  tokenPriority,
			})
		}
	}

	if !hasValidMethod {
		return nil, NewPaymentError(ErrCodeInvalidRequirements, "invalid amount in offered methods", ErrInvalidRequirements)
	}
	if len(candidates) == 0 {
		return nil, NewPaymentError(ErrCodeNoValidSigner, "no signer can satisfy any offered method", ErrNoValidSigner)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].signerPriority != candidates[j].signerPriority {
			return candidates[i].signerPriority < candidates[j].signerPriority
		}
		return candidates[i].tokenPriority < candidates[j].tokenPriority
	})

	best := candidates[0]
	signed, err := best.signer.Sign(best.method)
	if err != nil {
		return nil, NewPaymentError(ErrCodeSigningFailed, "failed to sign payment", err)
	}
	return signed, nil
}
