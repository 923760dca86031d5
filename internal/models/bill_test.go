package models

import (
	"errors"
	"testing"
)

func TestBillDataValidate(t *testing.T) {
	tests := []struct {
		name    string
		bill    BillData
		wantErr error
	}{
		{
			name:    "valid bill",
			bill:    BillData{TotalAmount: 50000, Description: "Dinner", Currency: "INR"},
			wantErr: nil,
		},
		{
			name:    "zero amount",
			bill:    BillData{TotalAmount: 0, Description: "Dinner"},
			wantErr: ErrNonPositiveAmount,
		},
		{
			name:    "negative amount",
			bill:    BillData{TotalAmount: -100, Description: "Dinner"},
			wantErr: ErrNonPositiveAmount,
		},
		{
			name:    "empty description",
			bill:    BillData{TotalAmount: 50000},
			wantErr: ErrEmptyDescription,
		},
		{
			name: "item with non-positive amount",
			bill: BillData{
				TotalAmount: 50000,
				Description: "Dinner",
				Items:       []BillItem{{Name: "starter", Amount: 0, Quantity: 1}},
			},
			wantErr: ErrNonPositiveAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.bill.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		paise    int64
		currency string
		want     string
	}{
		{50000, "INR", "₹500.00"},
		{50050, "", "₹500.50"},
		{99, "INR", "₹0.99"},
		{50000, "USD", "USD 500.00"},
	}

	for _, tt := range tests {
		if got := FormatAmount(tt.paise, tt.currency); got != tt.want {
			t.Errorf("FormatAmount(%d, %q) = %q, want %q", tt.paise, tt.currency, got, tt.want)
		}
	}
}

func TestAPIResponseBuilder(t *testing.T) {
	resp := NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage("done").
		WithResult(map[string]int{"count": 2}).
		Build()

	if resp.Status != string(APIStatusOK) {
		t.Errorf("Expected status %q, got %q", APIStatusOK, resp.Status)
	}
	if resp.Message != "done" {
		t.Errorf("Expected message %q, got %q", "done", resp.Message)
	}
	if resp.Result == nil {
		t.Error("Expected result to be set")
	}

	errResp := Error("boom")
	if errResp.Status != string(APIStatusError) || errResp.Message != "boom" {
		t.Errorf("Unexpected error response: %+v", errResp)
	}
}
