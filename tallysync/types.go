package tallysync

// ConnectionTestResult is the response of a connectivity probe against a
// Tally host. Probe failures are a result, not an HTTP error.
type ConnectionTestResult struct {
	Success       bool     `json:"success"`
	Message       string   `json:"message"`
	OpenCompanies []string `json:"open_companies"`
	Version       string   `json:"version"`
}

// ProbeRequest targets an arbitrary host, not a saved company, so a user
// can verify connectivity before creating one.
type ProbeRequest struct {
	Host string `json:"host" binding:"required"`
	Port int    `json:"port" binding:"required,min=1,max=65535"`
}

// PushResult reports the outcome of pushing one order to Tally. A rejected
// voucher is still HTTP 200 with Success=false.
type PushResult struct {
	Success            bool   `json:"success"`
	Message            string `json:"message"`
	TallyVoucherNumber string `json:"tally_voucher_number"`
}
