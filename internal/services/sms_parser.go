package services

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
)

// bankAliases maps SMS bank codes to the names users type into their
// profile, Thai first.
var bankAliases = map[string][]string{
	"BBL":       {"กรุงเทพ", "bangkok bank", "bbl"},
	"KBANK":     {"กสิกรไทย", "กสิกร", "kasikorn", "kbank"},
	"SCB":       {"ไทยพาณิชย์", "scb", "siam commercial"},
	"KTB":       {"กรุงไทย", "krungthai", "ktb"},
	"BAY":       {"กรุงศรีอยุธยา", "กรุงศรี", "krungsri", "bay"},
	"TMB":       {"ทหารไทยธนชาต", "ทหารไทย", "tmb", "ttb"},
	"TTB":       {"ทีทีบี", "ttb", "tmbthanachart"},
	"GSB":       {"ออมสิน", "gsb", "government savings"},
	"CIMB":      {"ซีไอเอ็มบี", "cimb"},
	"LH":        {"แลนด์แอนด์เฮ้าส์", "lhbank", "lh"},
	"TISCO":     {"ทิสโก้", "tisco"},
	"UOB":       {"ยูโอบี", "uob"},
	"BAAC":      {"ธ.ก.ส.", "baac", "ธกส"},
	"ICBC":      {"ไอซีบีซี", "icbc"},
	"PROMPTPAY": {"พร้อมเพย์", "promptpay"},
}

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	amountRe     = regexp.MustCompile(`มีเงิน([\d,]+\.?\d*)บ`)
	destRe       = regexp.MustCompile(`โอนเข้าบ/ช[xX]*(\d{4})`)
	sourceRe     = regexp.MustCompile(`จาก\s*([A-Z]+)\s*[xX](\d{4})`)
	nameRe       = regexp.MustCompile(`[xX]\d{4}\s+(.+?)\s+เหลือ`)
	balanceRe    = regexp.MustCompile(`เหลือ([\d,]+\.?\d*)บ`)
	dateTimeRe   = regexp.MustCompile(`(\d{2}/\d{2}/\d{2}@\d{2}:\d{2})`)
	nonDigitRe   = regexp.MustCompile(`\D`)
)

// ParsedSMS is the structured form of a Thai bank credit-notification SMS.
// Amounts are in satang.
type ParsedSMS struct {
	Amount             int64  `json:"amount"`
	DestAccountLast4   string `json:"dest_account_last4"`
	SourceBank         string `json:"source_bank"`
	SourceAccountLast4 string `json:"source_account_last4"`
	SourceName         string `json:"source_name"`
	BalanceAfter       int64  `json:"balance_after"`
	DateTime           string `json:"date_time"`
	RawMessage         string `json:"raw_message"`
}

// ParseBankSMS extracts amount, destination account and sender details from
// a bank transfer SMS.
//
// Format: มีเงิน10.00บ.โอนเข้าบ/ชxx7109 จากBBL X7902 MR WORAPON CHIN เหลือ94.00บ.31/12/25@00:33
//
// Returns nil when any of the mandatory fields (amount, destination,
// source bank/account) is missing.
func ParseBankSMS(message string) *ParsedSMS {
	normalized := strings.TrimSpace(whitespaceRe.ReplaceAllString(message, " "))

	amountMatch := amountRe.FindStringSubmatch(normalized)
	if amountMatch == nil {
		return nil
	}
	amount, err := parseBahtAmount(amountMatch[1])
	if err != nil {
		return nil
	}

	destMatch := destRe.FindStringSubmatch(normalized)
	if destMatch == nil {
		return nil
	}

	sourceMatch := sourceRe.FindStringSubmatch(normalized)
	if sourceMatch == nil {
		return nil
	}

	parsed := &ParsedSMS{
		Amount:             amount,
		DestAccountLast4:   destMatch[1],
		SourceBank:         sourceMatch[1],
		SourceAccountLast4: sourceMatch[2],
		RawMessage:         message,
	}

	if nameMatch := nameRe.FindStringSubmatch(normalized); nameMatch != nil {
		parsed.SourceName = strings.TrimSpace(nameMatch[1])
	}
	if balanceMatch := balanceRe.FindStringSubmatch(normalized); balanceMatch != nil {
		if balance, err := parseBahtAmount(balanceMatch[1]); err == nil {
			parsed.BalanceAfter = balance
		}
	}
	if dateTimeMatch := dateTimeRe.FindStringSubmatch(normalized); dateTimeMatch != nil {
		parsed.DateTime = dateTimeMatch[1]
	}

	return parsed
}

// MatchBankName reports whether an SMS bank code refers to the bank name a
// user registered, which is usually in Thai.
func MatchBankName(smsBank, userBank string) bool {
	normalized := strings.TrimSpace(strings.ToLower(userBank))
	aliases, ok := bankAliases[strings.ToUpper(smsBank)]
	if !ok {
		return strings.ToLower(smsBank) == normalized
	}
	for _, alias := range aliases {
		lower := strings.ToLower(alias)
		if strings.Contains(normalized, lower) || strings.Contains(lower, normalized) {
			return true
		}
	}
	return false
}

// MatchAccountLast4 reports whether a full account number ends with the
// given last four digits, ignoring formatting characters.
func MatchAccountLast4(fullAccount, last4 string) bool {
	clean := nonDigitRe.ReplaceAllString(fullAccount, "")
	return strings.HasSuffix(clean, last4)
}

// MessageHash is the dedup key for a raw SMS.
func MessageHash(message string) string {
	sum := md5.Sum([]byte(strings.TrimSpace(message)))
	return hex.EncodeToString(sum[:])
}

// BankThaiName returns the primary Thai name for an SMS bank code, or the
// code itself when unknown.
func BankThaiName(smsBank string) string {
	if aliases, ok := bankAliases[strings.ToUpper(smsBank)]; ok {
		return aliases[0]
	}
	return smsBank
}

// parseBahtAmount converts a "1,234.56" baht string to satang without
// floating point.
func parseBahtAmount(s string) (int64, error) {
	s = strings.ReplaceAll(s, ",", "")
	baht := s
	satang := "00"
	if i := strings.IndexByte(s, '.'); i >= 0 {
		baht = s[:i]
		frac := s[i+1:]
		switch len(frac) {
		case 0:
		case 1:
			satang = frac + "0"
		default:
			satang = frac[:2]
		}
	}
	if baht == "" {
		baht = "0"
	}
	whole, err := strconv.ParseInt(baht, 10, 64)
	if err != nil {
		return 0, err
	}
	cents, err := strconv.ParseInt(satang, 10, 64)
	if err != nil {
		return 0, err
	}
	return whole*100 + cents, nil
}
