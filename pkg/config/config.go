// Package config provides configuration management for rentbooks.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config represents the application configuration.
type Config struct {
	Operator OperatorConfig
	Google   GoogleConfig
	Mail     MailConfig
	Sheets   SheetsConfig
	Property PropertyConfig
	Server   ServerConfig
	DataRoot string
	Timezone string
	Debug    bool
}

// OperatorConfig identifies the single person allowed to run the books.
type OperatorConfig struct {
	Email      string   // must match the authenticated Google account
	Party      string   // responsible-party column value on every posting
	Recipients []string // monthly update recipients
	SenderName string   // display name on the monthly update
}

// GoogleConfig holds Google API credentials and resource IDs.
type GoogleConfig struct {
	CredentialsPath string
	TokenPath       string // local path or gs://bucket/object
	RulesSource     string // local path, gs://bucket/object or drive:<fileID>
	BillFolderID    string // Drive folder that keeps bill attachments
	TaskListID      string
}

// MailConfig holds the Gmail label names the pipeline works with.
type MailConfig struct {
	BillsLabel   string
	RecordsLabel string
	ReviewLabel  string
	ErrorLabel   string
	MaxThreads   int64
}

// SheetsConfig identifies the two property workbooks.
type SheetsConfig struct {
	DuplexSpreadsheetID string
	MainSpreadsheetID   string
	DuplexLedger        string
	MainLedger          string

	// A1 ranges of the recurring-entry source tables.
	RentRange           string
	DuplexMortgageRange string
	MainMortgageRange   string
	AccountsRange       string
}

// PropertyConfig describes the rental used for the value estimate.
type PropertyConfig struct {
	Street        string
	CityStateZip  string
	TruliaID      string
	PurchasePrice int64
	RenderPages   bool // fetch the estimate page through headless Chrome
}

// ServerConfig configures the expense webhook server.
type ServerConfig struct {
	Addr           string
	Token          string
	AllowedOrigins []string // CORS origins allowed to submit the expense form
}

// Load loads configuration from environment variables.
// It automatically loads .env file from the current directory if available.
// You can optionally specify a custom .env file path.
func Load(envPath ...string) (*Config, error) {
	if len(envPath) > 0 && envPath[0] != "" {
		if err := godotenv.Load(envPath[0]); err != nil {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	} else {
		// Try to load .env from current directory (ignore error if not found)
		_ = godotenv.Load()
	}

	purchasePrice, err := parseInt64Env("PURCHASE_PRICE", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid PURCHASE_PRICE: %w", err)
	}

	maxThreads, err := parseInt64Env("MAIL_MAX_THREADS", 100)
	if err != nil {
		return nil, fmt.Errorf("invalid MAIL_MAX_THREADS: %w", err)
	}

	config := &Config{
		Operator: OperatorConfig{
			Email:      os.Getenv("OPERATOR_EMAIL"),
			Party:      getEnvOrDefault("LEDGER_PARTY", "Michael"),
			Recipients: splitList(os.Getenv("REPORT_RECIPIENTS")),
			SenderName: getEnvOrDefault("REPORT_SENDER_NAME", "Conan Rental Management"),
		},
		Google: GoogleConfig{
			CredentialsPath: getEnvOrDefault("GOOGLE_CREDENTIALS_PATH", "credentials.json"),
			TokenPath:       os.Getenv("GOOGLE_TOKEN_PATH"),
			RulesSource:     os.Getenv("UTILITY_RULES"),
			BillFolderID:    os.Getenv("BILL_FOLDER_ID"),
			TaskListID:      getEnvOrDefault("TASK_LIST_ID", "@default"),
		},
		Mail: MailConfig{
			BillsLabel:   getEnvOrDefault("BILLS_LABEL", "Home/Bills"),
			RecordsLabel: getEnvOrDefault("RECORDS_LABEL", "Home/Duplex Records"),
			ReviewLabel:  getEnvOrDefault("REVIEW_LABEL", "Script/Unmatched"),
			ErrorLabel:   getEnvOrDefault("ERROR_LABEL", "Script/Error"),
			MaxThreads:   maxThreads,
		},
		Sheets: SheetsConfig{
			DuplexSpreadsheetID: os.Getenv("DUPLEX_SPREADSHEET_ID"),
			MainSpreadsheetID:   os.Getenv("MAIN_SPREADSHEET_ID"),
			DuplexLedger:        getEnvOrDefault("DUPLEX_LEDGER_SHEET", "Transaction Detail"),
			MainLedger:          getEnvOrDefault("MAIN_LEDGER_SHEET", "Transactions"),
			RentRange:           getEnvOrDefault("RENT_RANGE", "'Summary'!F4:H5"),
			DuplexMortgageRange: getEnvOrDefault("DUPLEX_MORTGAGE_RANGE", "'Summary'!F8:I9"),
			MainMortgageRange:   getEnvOrDefault("MAIN_MORTGAGE_RANGE", "'Summary'!E3:G5"),
			AccountsRange:       getEnvOrDefault("ACCOUNTS_RANGE", "'Accounts'!A:C"),
		},
		Property: PropertyConfig{
			Street:        os.Getenv("PROPERTY_STREET"),
			CityStateZip:  os.Getenv("PROPERTY_CITY_STATE_ZIP"),
			TruliaID:      os.Getenv("TRULIA_ID"),
			PurchasePrice: purchasePrice,
			RenderPages:   os.Getenv("ESTIMATE_RENDER") == "true",
		},
		Server: ServerConfig{
			Addr:           getEnvOrDefault("SERVER_ADDR", "127.0.0.1:8085"),
			Token:          os.Getenv("SERVER_TOKEN"),
			AllowedOrigins: splitList(os.Getenv("SERVER_ALLOWED_ORIGINS")),
		},
		DataRoot: getEnvOrDefault("RENTBOOKS_DATA", "./data"),
		Timezone: os.Getenv("TIMEZONE"),
		Debug:    os.Getenv("DEBUG") == "true",
	}

	return config, nil
}

// Validate validates the configuration.
// It checks if all required fields are set.
func (c *Config) Validate(required ...[]string) error {
	var missing []string

	for _, path := range required {
		if len(path) < 2 {
			continue
		}

		var value string
		switch path[0] {
		case "operator":
			switch path[1] {
			case "email":
				value = c.Operator.Email
			case "party":
				value = c.Operator.Party
			case "recipients":
				value = strings.Join(c.Operator.Recipients, ",")
			}
		case "google":
			switch path[1] {
			case "credentialsPath":
				value = c.Google.CredentialsPath
			case "rulesSource":
				value = c.Google.RulesSource
			case "billFolderId":
				value = c.Google.BillFolderID
			case "taskListId":
				value = c.Google.TaskListID
			}
		case "sheets":
			switch path[1] {
			case "duplexSpreadsheetId":
				value = c.Sheets.DuplexSpreadsheetID
			case "mainSpreadsheetId":
				value = c.Sheets.MainSpreadsheetID
			}
		case "property":
			switch path[1] {
			case "street":
				value = c.Property.Street
			case "cityStateZip":
				value = c.Property.CityStateZip
			case "truliaId":
				value = c.Property.TruliaID
			}
		}

		if value == "" {
			missing = append(missing, strings.Join(path, "."))
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %v\nPlease check your .env file or environment variables", missing)
	}

	return nil
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseInt64Env parses an int64 from an environment variable.
// Returns defaultValue if the environment variable is not set.
func parseInt64Env(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value for %s: %s", key, value)
	}

	return parsed, nil
}

// splitList splits a comma-separated value, dropping empty items.
func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
