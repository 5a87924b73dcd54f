package normalize

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"banksync/internal/banksync/failure"
	"banksync/internal/components/telemetry"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func decodeRecords(t testing.TB, body string) []map[string]any {
	var out []map[string]any
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&out))
	return out
}

func day(t testing.TB, s string) time.Time {
	d, err := time.Parse(time.DateOnly, s)
	require.NoError(t, err)
	return d
}

const records = `[
	{"id": "t1", "attributes": {"status": "booked", "bookingDate": "2024-01-03", "valueDate": "2024-01-03",
		"amount": {"currencyCode": "EUR", "value": "-12.50"}, "description": "Coffee",
		"creditor": {"name": "Cafe", "creditorAccount": {"iban": "DE001"}}, "transactionType": "CARD"}},
	{"id": "t2", "attributes": {"status": "booked", "bookingDate": "2024-01-05", "valueDate": "2024-01-05",
		"amount": {"currencyCode": "EUR", "value": 1000}, "description": "Salary",
		"debtor": {"name": "Employer", "debtorAccount": {"iban": "DE002"}}, "transactionType": "TRANSFER"}},
	{"id": "t3", "attributes": {"status": "pending", "amount": {"currencyCode": "EUR", "value": "-3.00"}}},
	{"id": "t4", "attributes": {"status": "booked", "bookingDate": "2023-12-30", "valueDate": "2023-12-30",
		"amount": {"currencyCode": "EUR", "value": "-1.00"}}},
	{"id": "t1", "attributes": {"status": "booked", "bookingDate": "2024-01-04", "valueDate": "2024-01-04",
		"amount": {"currencyCode": "EUR", "value": "-2.00"}}},
	{"id": "t5", "attributes": {"status": "booked", "valueDate": "2024-01-07",
		"amount": {"currencyCode": "EUR", "value": "0"},
		"creditor": {"name": "Zero"}, "debtor": {"name": "Wrong"}}}
]`

func TestRecords(t *testing.T) {
	tel := &telemetry.Recorder{}
	n := NewNormalizer(day(t, "2024-01-01"), day(t, "2024-01-31"), tel)

	rows, err := n.Records(decodeRecords(t, records))
	require.NoError(t, err)

	expected := []Row{
		{
			Id: "t1", Status: "booked", BookingDate: "2024-01-03", ValueDate: "2024-01-03",
			Currency: "EUR", Amount: "-12.50", Description: "Coffee",
			CounterpartyName: "Cafe", CounterpartyIBAN: "DE001", TransactionType: "CARD",
		},
		{
			Id: "t2", Status: "booked", BookingDate: "2024-01-05", ValueDate: "2024-01-05",
			Currency: "EUR", Amount: "1000", Description: "Salary",
			CounterpartyName: "Employer", CounterpartyIBAN: "DE002", TransactionType: "TRANSFER",
		},
		{
			Id: "t5", Status: "booked", ValueDate: "2024-01-07",
			Currency: "EUR", Amount: "0", CounterpartyName: "Zero",
		},
	}
	if diff := cmp.Diff(expected, rows); diff != "" {
		t.Fatal(diff)
	}
	require.True(t, tel.Contains("warning", "normalize.duplicate"))
}

func TestRecordsUpperBound(t *testing.T) {
	n := NewNormalizer(day(t, "2024-01-01"), day(t, "2024-01-04"), &telemetry.Recorder{})
	rows, err := n.Records(decodeRecords(t, records))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "t1", rows[0].Id)
}

func TestRecordsCalendarDates(t *testing.T) {
	cet := time.FixedZone("CET", 3600)
	from := time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 31, 0, 0, 0, 0, cet)
	n := NewNormalizer(from, to, &telemetry.Recorder{})

	rows, err := n.Records(decodeRecords(t, `[
		{"id": "a", "attributes": {"status": "booked", "valueDate": "2024-01-31",
			"amount": {"currencyCode": "EUR", "value": "-1.00"}}},
		{"id": "b", "attributes": {"status": "booked", "valueDate": "2024-01-05",
			"amount": {"currencyCode": "EUR", "value": "-2.00"}}},
		{"id": "c", "attributes": {"status": "booked", "valueDate": "2024-01-04",
			"amount": {"currencyCode": "EUR", "value": "-3.00"}}}
	]`))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "a", rows[0].Id)
	require.Equal(t, "b", rows[1].Id)
}

func TestRecordsMalformed(t *testing.T) {
	n := NewNormalizer(day(t, "2024-01-01"), day(t, "2024-01-31"), &telemetry.Recorder{})

	_, err := n.Records(decodeRecords(t, `[{"attributes": {"status": "booked"}}]`))
	require.ErrorIs(t, err, failure.ErrMalformedPayload)

	_, err = n.Records(decodeRecords(t, `[{"id": "x", "attributes": {"status": "booked", "valueDate": "2024-01-02"}}]`))
	require.ErrorIs(t, err, failure.ErrMalformedPayload)

	_, err = n.Records(decodeRecords(t, `[{"id": "x", "attributes": {"status": "booked", "valueDate": "2024-01-02",
		"amount": {"currencyCode": "EUR", "value": "abc"}}}]`))
	require.ErrorIs(t, err, failure.ErrMalformedPayload)

	// pending records are dropped before their other fields are checked
	rows, err := n.Records(decodeRecords(t, `[{"id": "x", "attributes": {"status": "pending"}}]`))
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestFlatten(t *testing.T) {
	flat := Flatten(map[string]any{
		"id": "t1",
		"attributes": map[string]any{
			"amount": map[string]any{"value": json.Number("1.5")},
			"note":   nil,
			"flag":   true,
		},
		"relationships": map[string]any{"merchant": map[string]any{"id": "m1"}},
	})
	require.Equal(t, map[string]string{
		"id":                        "t1",
		"amount.value":              "1.5",
		"note":                      "",
		"flag":                      "true",
		"relationships.merchant.id": "m1",
	}, flat)
}

func TestReencode(t *testing.T) {
	out, err := Reencode([]byte("Empf\xe4nger;Betrag\nM\xfcller;-1,00\n"), "windows-1252")
	require.NoError(t, err)
	require.Equal(t, "Empfänger;Betrag\nMüller;-1,00\n", string(out))

	again, err := Reencode(out, "utf-8")
	require.NoError(t, err)
	require.Equal(t, out, again)

	_, err = Reencode([]byte("x"), "klingon")
	require.ErrorIs(t, err, failure.ErrMalformedPayload)

	_, err = Reencode([]byte("\xff"), "UTF-8")
	require.ErrorIs(t, err, failure.ErrMalformedPayload)
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	err := WriteCSV(&buf, []Row{{Id: "t1", Status: "booked", Amount: "-1.00", Description: "a, b"}})
	require.NoError(t, err)
	require.Equal(t,
		"id,status,booking_date,value_date,currency,amount,description,counterparty_name,counterparty_iban,transaction_type\n"+
			"t1,booked,,,,-1.00,\"a, b\",,,\n",
		buf.String(),
	)
}
