package monitor

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/yourorg/payment-reconciler/internal/pending"
)

// CheckoutSchema is the contract of a checkout draft request.
const CheckoutSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"title": "CheckoutRequest",
	"type": "object",
	"properties": {
		"items": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"properties": {
					"courseId": { "type": "string", "minLength": 1 },
					"title": { "type": "string" },
					"unitPrice": { "type": "integer", "minimum": 0 },
					"quantity": { "type": "integer", "minimum": 1 }
				},
				"required": ["courseId", "unitPrice", "quantity"]
			}
		},
		"buyer": {
			"type": "object",
			"properties": {
				"name": { "type": "string", "minLength": 1 },
				"email": { "type": "string", "format": "email" },
				"phone": { "type": "string" }
			},
			"required": ["name", "email"]
		},
		"voucherCode": { "type": "string" },
		"currency": { "type": "string", "pattern": "^[A-Za-z]{3}$" }
	},
	"required": ["items", "buyer"]
}`

// DepositSchema is the contract of a wallet deposit draft request.
const DepositSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"title": "DepositRequest",
	"type": "object",
	"properties": {
		"amount": { "type": "integer", "minimum": 1 },
		"method": { "type": "string", "minLength": 1 },
		"currency": { "type": "string", "pattern": "^[A-Za-z]{3}$" }
	},
	"required": ["amount", "method"]
}`

// ContractMonitor validates incoming requests against a JSON schema.
type ContractMonitor struct {
	schema *gojsonschema.Schema
}

// NewContractMonitor compiles an inline schema.
func NewContractMonitor(schemaJSON string) (*ContractMonitor, error) {
	return compile(gojsonschema.NewStringLoader(schemaJSON), "inline schema")
}

// NewContractMonitorFromFile compiles the schema at schemaPath, which should
// be absolute or relative to the working directory.
func NewContractMonitorFromFile(schemaPath string) (*ContractMonitor, error) {
	return compile(gojsonschema.NewReferenceLoader("file://"+schemaPath), schemaPath)
}

func compile(loader gojsonschema.JSONLoader, name string) (*ContractMonitor, error) {
	schema, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, fmt.Errorf("error loading or compiling schema %s: %w", name, err)
	}
	return &ContractMonitor{schema: schema}, nil
}

// Validate reports whether requestBody satisfies the schema, with the list of
// violations when it does not. The error is set only for undecodable input.
func (cm *ContractMonitor) Validate(requestBody []byte) (bool, []string, error) {
	result, err := cm.schema.Validate(gojsonschema.NewBytesLoader(requestBody))
	if err != nil {
		return false, nil, fmt.Errorf("error during validation: %w", err)
	}
	if result.Valid() {
		return true, nil, nil
	}

	var errors []string
	for _, desc := range result.Errors() {
		errors = append(errors, desc.String())
	}
	return false, errors, nil
}

// Contracts holds the monitor of each draft kind.
type Contracts struct {
	byKind map[pending.Kind]*ContractMonitor
}

// NewContracts compiles the built-in draft schemas.
func NewContracts() (*Contracts, error) {
	checkout, err := NewContractMonitor(CheckoutSchema)
	if err != nil {
		return nil, err
	}
	deposit, err := NewContractMonitor(DepositSchema)
	if err != nil {
		return nil, err
	}
	return &Contracts{byKind: map[pending.Kind]*ContractMonitor{
		pending.OrderCheckout: checkout,
		pending.WalletDeposit: deposit,
	}}, nil
}

// LoadContracts compiles the built-in contracts and replaces each one whose
// schema file exists in dir, named after the kind route (order.json,
// deposit.json). An empty dir keeps the built-ins.
func LoadContracts(dir string) (*Contracts, error) {
	c, err := NewContracts()
	if err != nil || dir == "" {
		return c, err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("monitor: resolve schema dir: %w", err)
	}
	for kind := range c.byKind {
		path := filepath.Join(abs, kind.Route()+".json")
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			continue
		} else if err != nil {
			return nil, fmt.Errorf("monitor: stat %s: %w", path, err)
		}
		cm, err := NewContractMonitorFromFile(path)
		if err != nil {
			return nil, err
		}
		c.byKind[kind] = cm
	}
	return c, nil
}

// Validate checks body against the contract of kind.
func (c *Contracts) Validate(kind pending.Kind, body []byte) (bool, []string, error) {
	cm, ok := c.byKind[kind]
	if !ok {
		return false, nil, fmt.Errorf("no contract for kind %q", kind)
	}
	return cm.Validate(body)
}

// FormatErrors formats a slice of validation error strings into a single string.
func FormatErrors(validationErrors []string) string {
	if len(validationErrors) == 0 {
		return ""
	}
	return "Validation errors: " + strings.Join(validationErrors, "; ")
}
