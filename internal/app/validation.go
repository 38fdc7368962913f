/**
 * @description
 * Request shapes accepted by the HTTP layer and the validation that turns them into domain
 * inputs. Validation returns (value, error) and never panics; every rule that fails is
 * reported, not just the first.
 *
 * @notes
 * - Money arrives as JSON numbers or numeric strings and is parsed straight into decimals.
 *   It never passes through float64.
 */

package app

import (
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/shelterflex/rent-service/internal/canonical"
	"github.com/shelterflex/rent-service/internal/domain"
)

const (
	MaxPageSize      = 100
	DefaultPageSize  = 20
	MinListingPhotos = 3
	MaxListingPhotos = 20
)

type CreateDealRequest struct {
	TenantID      string       `json:"tenantId"`
	LandlordID    string       `json:"landlordId"`
	ListingID     *string      `json:"listingId"`
	AnnualRentNGN *json.Number `json:"annualRentNgn"`
	DepositNGN    *json.Number `json:"depositNgn"`
	TermMonths    *json.Number `json:"termMonths"`
}

type ConfirmPaymentRequest struct {
	DealID            string       `json:"dealId"`
	TxType            string       `json:"txType"`
	AmountUSDC        *json.Number `json:"amountUsdc"`
	TokenAddress      string       `json:"tokenAddress"`
	ExternalRefSource string       `json:"externalRefSource"`
	ExternalRef       string       `json:"externalRef"`
	Period            *json.Number `json:"period"`
	ListingID         string       `json:"listingId"`
	AmountNGN         *json.Number `json:"amountNgn"`
	FxRateNGNPerUSDC  *json.Number `json:"fxRateNgnPerUsdc"`
	FxProvider        string       `json:"fxProvider"`
}

type MarkRewardPaidRequest struct {
	AmountUSDC        *json.Number `json:"amountUsdc"`
	TokenAddress      string       `json:"tokenAddress"`
	ExternalRefSource string       `json:"externalRefSource"`
	ExternalRef       string       `json:"externalRef"`
	AmountNGN         *json.Number `json:"amountNgn"`
	FxRateNGNPerUSDC  *json.Number `json:"fxRateNgnPerUsdc"`
	FxProvider        string       `json:"fxProvider"`
}

type CreateRewardRequest struct {
	WhistleblowerID string       `json:"whistleblowerId"`
	DealID          string       `json:"dealId"`
	ListingID       string       `json:"listingId"`
	AmountUSDC      *json.Number `json:"amountUsdc"`
}

type CreateListingRequest struct {
	WhistleblowerID string       `json:"whistleblowerId"`
	Address         string       `json:"address"`
	City            string       `json:"city"`
	Area            string       `json:"area"`
	Bedrooms        *json.Number `json:"bedrooms"`
	Bathrooms       *json.Number `json:"bathrooms"`
	AnnualRentNGN   *json.Number `json:"annualRentNgn"`
	Description     string       `json:"description"`
	Photos          []string     `json:"photos"`
}

// ConfirmPaymentInput is a validated payment confirmation.
type ConfirmPaymentInput struct {
	TxType      domain.TxType
	ExternalRef string
	Payload     domain.ReceiptPayload
}

type fieldErrors []domain.FieldError

func (f *fieldErrors) add(field, format string, args ...any) {
	*f = append(*f, domain.FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (f fieldErrors) result(message string) error {
	if len(f) == 0 {
		return nil
	}
	return domain.NewValidationError(message, f...)
}

func required(errs *fieldErrors, field, value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		errs.add(field, "%s is required", field)
	}
	return value
}

// wholeNumber parses n as an integer. ok is false when n is missing or malformed, in which
// case the failure has already been recorded.
func wholeNumber(errs *fieldErrors, field string, n *json.Number, isRequired bool) (int64, bool) {
	if n == nil {
		if isRequired {
			errs.add(field, "%s is required", field)
		}
		return 0, false
	}
	v, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		errs.add(field, "%s must be a whole number", field)
		return 0, false
	}
	return v, true
}

func positiveDecimal(errs *fieldErrors, field string, n *json.Number, isRequired bool) (decimal.NullDecimal, bool) {
	if n == nil {
		if isRequired {
			errs.add(field, "%s is required", field)
		}
		return decimal.NullDecimal{}, !isRequired
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		errs.add(field, "%s must be a decimal number", field)
		return decimal.NullDecimal{}, false
	}
	if !d.IsPositive() {
		errs.add(field, "%s must be greater than 0", field)
		return decimal.NullDecimal{}, false
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, true
}

func usdcAmount(errs *fieldErrors, n *json.Number) decimal.Decimal {
	amount, ok := positiveDecimal(errs, "amountUsdc", n, true)
	if !ok {
		return decimal.Zero
	}
	if !amount.Decimal.Equal(amount.Decimal.Truncate(domain.USDCDecimals)) {
		errs.add("amountUsdc", "amountUsdc must have at most %d decimal places", domain.USDCDecimals)
	}
	return amount.Decimal
}

// ValidateCreateDeal checks the origination rules: positive whole-naira rent and deposit, a
// deposit of at least minDepositPercent of the rent and strictly below it, and an allowed term.
func ValidateCreateDeal(req CreateDealRequest, allowedTerms []int, minDepositPercent int64) (domain.CreateDealInput, error) {
	var errs fieldErrors
	input := domain.CreateDealInput{
		TenantID:   required(&errs, "tenantId", req.TenantID),
		LandlordID: required(&errs, "landlordId", req.LandlordID),
	}
	if req.ListingID != nil && strings.TrimSpace(*req.ListingID) != "" {
		listingID := strings.TrimSpace(*req.ListingID)
		input.ListingID = &listingID
	}

	rent, rentOK := wholeNumber(&errs, "annualRentNgn", req.AnnualRentNGN, true)
	if rentOK && rent <= 0 {
		errs.add("annualRentNgn", "Annual rent must be greater than 0")
		rentOK = false
	}
	deposit, depositOK := wholeNumber(&errs, "depositNgn", req.DepositNGN, true)
	if depositOK && deposit <= 0 {
		errs.add("depositNgn", "Deposit must be greater than 0")
		depositOK = false
	}
	term, termOK := wholeNumber(&errs, "termMonths", req.TermMonths, true)
	if termOK && !slices.Contains(allowedTerms, int(term)) {
		errs.add("termMonths", "Term months must be one of: %s", joinInts(allowedTerms))
	}

	if rentOK && depositOK {
		// deposit*100 >= rent*pct keeps the percentage check exact; decimal avoids int64 overflow
		hundred := decimal.NewFromInt(100)
		if decimal.NewFromInt(deposit).Mul(hundred).LessThan(decimal.NewFromInt(rent).Mul(decimal.NewFromInt(minDepositPercent))) {
			errs.add("depositNgn", "Deposit must be at least %d%% of annual rent", minDepositPercent)
		}
		if deposit >= rent {
			errs.add("depositNgn", "Deposit must be less than annual rent")
		}
	}

	if err := errs.result("Invalid deal request"); err != nil {
		return domain.CreateDealInput{}, err
	}
	input.AnnualRentNGN = rent
	input.DepositNGN = deposit
	input.TermMonths = int(term)
	return input, nil
}

// ValidateConfirmPayment builds the typed receipt payload and the canonical external
// reference for a payment confirmation.
func ValidateConfirmPayment(req ConfirmPaymentRequest) (ConfirmPaymentInput, error) {
	var errs fieldErrors
	dealID := required(&errs, "dealId", req.DealID)
	txType := domain.TxType(strings.TrimSpace(req.TxType))
	if !txType.Valid() {
		errs.add("txType", "txType must be one of: %s", joinTxTypes())
	}
	settlement := validateSettlement(&errs, req.AmountUSDC, req.TokenAddress, req.AmountNGN, req.FxRateNGNPerUSDC, req.FxProvider)
	ref := validateExternalRef(&errs, req.ExternalRefSource, req.ExternalRef)

	period, periodOK := wholeNumber(&errs, "period", req.Period, false)
	if periodOK && period < 1 {
		errs.add("period", "period must be a positive integer")
	}
	listingID := strings.TrimSpace(req.ListingID)
	if txType == domain.TxTypeWhistleblowerReward && listingID == "" {
		errs.add("listingId", "listingId is required for %s", txType)
	}

	if err := errs.result("Invalid payment confirmation"); err != nil {
		return ConfirmPaymentInput{}, err
	}

	var payload domain.ReceiptPayload
	switch txType {
	case domain.TxTypeTenantRepayment:
		payload = domain.TenantRepaymentPayload{DealID: dealID, Period: int(period), Settlement: settlement}
	case domain.TxTypeLandlordPayout:
		payload = domain.LandlordPayoutPayload{DealID: dealID, ListingID: listingID, Settlement: settlement}
	case domain.TxTypeWhistleblowerReward:
		payload = domain.WhistleblowerRewardPayload{DealID: dealID, ListingID: listingID, Settlement: settlement}
	}
	return ConfirmPaymentInput{TxType: txType, ExternalRef: ref, Payload: payload}, nil
}

func ValidateMarkRewardPaid(req MarkRewardPaidRequest) (domain.MarkRewardPaidInput, error) {
	var errs fieldErrors
	settlement := validateSettlement(&errs, req.AmountUSDC, req.TokenAddress, req.AmountNGN, req.FxRateNGNPerUSDC, req.FxProvider)
	validateExternalRef(&errs, req.ExternalRefSource, req.ExternalRef)

	if err := errs.result("Invalid reward payment"); err != nil {
		return domain.MarkRewardPaidInput{}, err
	}
	return domain.MarkRewardPaidInput{
		AmountUSDC:        settlement.AmountUSDC,
		TokenAddress:      settlement.TokenAddress,
		ExternalRefSource: strings.TrimSpace(req.ExternalRefSource),
		ExternalRef:       strings.TrimSpace(req.ExternalRef),
		AmountNGN:         settlement.AmountNGN,
		FxRateNGNPerUSDC:  settlement.FxRateNGNPerUSDC,
		FxProvider:        settlement.FxProvider,
	}, nil
}

func ValidateCreateReward(req CreateRewardRequest) (domain.CreateRewardInput, error) {
	var errs fieldErrors
	input := domain.CreateRewardInput{
		WhistleblowerID: required(&errs, "whistleblowerId", req.WhistleblowerID),
		DealID:          required(&errs, "dealId", req.DealID),
		ListingID:       required(&errs, "listingId", req.ListingID),
		AmountUSDC:      usdcAmount(&errs, req.AmountUSDC),
	}
	if err := errs.result("Invalid reward request"); err != nil {
		return domain.CreateRewardInput{}, err
	}
	return input, nil
}

func ValidateCreateListing(req CreateListingRequest) (domain.CreateListingInput, error) {
	var errs fieldErrors
	input := domain.CreateListingInput{
		WhistleblowerID: required(&errs, "whistleblowerId", req.WhistleblowerID),
		Address:         required(&errs, "address", req.Address),
		City:            strings.TrimSpace(req.City),
		Area:            strings.TrimSpace(req.Area),
		Description:     strings.TrimSpace(req.Description),
	}

	if bedrooms, ok := wholeNumber(&errs, "bedrooms", req.Bedrooms, true); ok {
		if bedrooms < 0 {
			errs.add("bedrooms", "Bedrooms must be 0 or greater")
		}
		input.Bedrooms = int(bedrooms)
	}
	if bathrooms, ok := wholeNumber(&errs, "bathrooms", req.Bathrooms, true); ok {
		if bathrooms < 0 {
			errs.add("bathrooms", "Bathrooms must be 0 or greater")
		}
		input.Bathrooms = int(bathrooms)
	}
	if rent, ok := wholeNumber(&errs, "annualRentNgn", req.AnnualRentNGN, true); ok {
		if rent <= 0 {
			errs.add("annualRentNgn", "Annual rent must be greater than 0")
		}
		input.AnnualRentNGN = rent
	}

	switch {
	case len(req.Photos) < MinListingPhotos:
		errs.add("photos", "At least %d photos are required", MinListingPhotos)
	case len(req.Photos) > MaxListingPhotos:
		errs.add("photos", "Maximum %d photos allowed", MaxListingPhotos)
	}
	for i, photo := range req.Photos {
		if !isHTTPURL(photo) {
			errs.add(fmt.Sprintf("photos[%d]", i), "Each photo must be a valid URL")
		}
	}
	input.Photos = append([]string(nil), req.Photos...)

	if err := errs.result("Invalid listing request"); err != nil {
		return domain.CreateListingInput{}, err
	}
	return input, nil
}

// ParsePagination applies the list defaults and bounds to raw query values.
func ParsePagination(rawPage, rawPageSize string) (int, int, error) {
	var errs fieldErrors
	page, pageSize := 1, DefaultPageSize
	if rawPage != "" {
		v, err := strconv.Atoi(rawPage)
		if err != nil || v < 1 {
			errs.add("page", "page must be a positive integer")
		} else {
			page = v
		}
	}
	if rawPageSize != "" {
		v, err := strconv.Atoi(rawPageSize)
		if err != nil || v < 1 || v > MaxPageSize {
			errs.add("pageSize", "pageSize must be between 1 and %d", MaxPageSize)
		} else {
			pageSize = v
		}
	}
	if err := errs.result("Invalid pagination"); err != nil {
		return 0, 0, err
	}
	return page, pageSize, nil
}

func validateSettlement(errs *fieldErrors, amount *json.Number, tokenAddress string, amountNGN, fxRate *json.Number, fxProvider string) domain.Settlement {
	s := domain.Settlement{
		AmountUSDC:   usdcAmount(errs, amount),
		TokenAddress: required(errs, "tokenAddress", tokenAddress),
		FxProvider:   strings.TrimSpace(fxProvider),
	}
	s.AmountNGN, _ = positiveDecimal(errs, "amountNgn", amountNGN, false)
	s.FxRateNGNPerUSDC, _ = positiveDecimal(errs, "fxRateNgnPerUsdc", fxRate, false)
	return s
}

// validateExternalRef composes "source:ref" and records failures against the request fields.
func validateExternalRef(errs *fieldErrors, source, ref string) string {
	src := required(errs, "externalRefSource", source)
	id := required(errs, "externalRef", ref)
	if src == "" || id == "" {
		return ""
	}
	if strings.Contains(src, ":") {
		errs.add("externalRefSource", "externalRefSource must not contain ':'")
		return ""
	}
	composed, err := canonical.ComposeExternalRef(src, id)
	if err != nil {
		errs.add("externalRef", "%v", err)
		return ""
	}
	return composed
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ", ")
}

func joinTxTypes() string {
	parts := make([]string, len(domain.TxTypes))
	for i, t := range domain.TxTypes {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}
