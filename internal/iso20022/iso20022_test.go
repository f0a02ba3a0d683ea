package iso20022

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPain001RoundTrip(t *testing.T) {
	t.Parallel()

	req := PaymentRequest{
		MsgID:             "MSG-1",
		PaymentInfoID:     "PMTINF-1",
		EndToEndID:        "E2E-1",
		CreationDateTime:  "2026-08-06T10:00:00Z",
		RequestedExecDate: "2026-08-06",
		DebtorName:        "Acme GmbH",
		DebtorIBAN:        "DE89370400440532013000",
		DebtorBIC:         "COBADEFFXXX",
		CreditorName:      "Jane Creditor",
		CreditorIBAN:      "FR1420041010050500013M02606",
		CreditorBIC:       "PSSTFRPPXXX",
		Amount:            "123.45",
		Currency:          "EUR",
		RemittanceSubject: "invoice 42",
	}

	doc, err := EmitPain001(req)
	require.NoError(t, err)

	got, err := ParsePain001(doc)
	require.NoError(t, err)

	require.Equal(t, req.CreditorIBAN, got.CreditorIBAN)
	require.Equal(t, req.Amount, got.Amount)
	require.Equal(t, req.Currency, got.Currency)
	require.Equal(t, req.RemittanceSubject, got.RemittanceSubject)
	require.Equal(t, req.EndToEndID, got.EndToEndID)
}

func TestPain001DefaultsEndToEndID(t *testing.T) {
	t.Parallel()

	req := PaymentRequest{
		Amount:            "1.00",
		Currency:          "EUR",
		CreditorIBAN:      "FR1420041010050500013M02606",
		RequestedExecDate: "2026-08-06",
		CreationDateTime:  "2026-08-06T10:00:00Z",
	}
	doc, err := EmitPain001(req)
	require.NoError(t, err)

	got, err := ParsePain001(doc)
	require.NoError(t, err)
	require.Equal(t, "NOTPROVIDED", got.EndToEndID)
}

const camtTwoCredits = `<?xml version="1.0"?>
<Document>
  <BkToCstmrAcctRpt>
    <Rpt>
      <Acct><Id><IBAN>DE89370400440532013000</IBAN></Id></Acct>
      <Ntry>
        <Amt Ccy="EUR">1.00</Amt>
        <CdtDbtInd>CRDT</CdtDbtInd>
        <Sts>BOOK</Sts>
      </Ntry>
      <Ntry>
        <Amt Ccy="EUR">5.00</Amt>
        <CdtDbtInd>CRDT</CdtDbtInd>
        <Sts>BOOK</Sts>
      </Ntry>
    </Rpt>
  </BkToCstmrAcctRpt>
</Document>`

func TestParseCamtTwoCreditEntries(t *testing.T) {
	t.Parallel()

	txs, err := ParseCamt([]byte(camtTwoCredits))
	require.NoError(t, err)
	require.Len(t, txs, 2)
	require.Equal(t, "1.00", txs[0].Amount)
	require.Equal(t, "5.00", txs[1].Amount)
	for _, tx := range txs {
		require.Equal(t, DirectionCredit, tx.Direction)
		require.Equal(t, StatusBooked, tx.Status)
		require.Equal(t, "EUR", tx.Currency)
	}
}

const camtBatchedReturn = `<Document>
  <BkToCstmrStmt>
    <Stmt>
      <Acct><Id><IBAN>DE89370400440532013000</IBAN></Id></Acct>
      <Ntry>
        <Amt Ccy="EUR">10.00</Amt>
        <CdtDbtInd>CRDT</CdtDbtInd>
        <Sts>BOOK</Sts>
        <BkTxCd><Domn><Cd>ICDT</Cd><Fmly><Cd>RRTN</Cd></Fmly></Domn></BkTxCd>
        <NtryDtls>
          <TxDtls><RmtInf><Ustrd>part one </Ustrd></RmtInf></TxDtls>
          <TxDtls><RmtInf><Ustrd>part two</Ustrd></RmtInf></TxDtls>
        </NtryDtls>
      </Ntry>
    </Stmt>
  </BkToCstmrStmt>
</Document>`

func TestParseCamtBatchedReturnYieldsOneTransactionPerTxDtls(t *testing.T) {
	t.Parallel()

	txs, err := ParseCamt([]byte(camtBatchedReturn))
	require.NoError(t, err)
	require.Len(t, txs, 2)
	require.True(t, txs[0].IsBatch)
	require.Equal(t, "ICDT", txs[0].BankTransactionCode.Domain)
	require.Equal(t, "RRTN", txs[0].BankTransactionCode.Family)
}

func TestParseCamtUnknownStatusFails(t *testing.T) {
	t.Parallel()

	doc := `<Document><BkToCstmrAcctRpt><Rpt>
		<Acct><Id><IBAN>X</IBAN></Id></Acct>
		<Ntry><Amt Ccy="EUR">1.00</Amt><CdtDbtInd>CRDT</CdtDbtInd><Sts>WEIRD</Sts></Ntry>
	</Rpt></BkToCstmrAcctRpt></Document>`
	_, err := ParseCamt([]byte(doc))
	require.Error(t, err)
}

func TestBalancesInvariant(t *testing.T) {
	t.Parallel()

	doc := `<Document><BkToCstmrStmt><Stmt>
		<Acct><Id><IBAN>X</IBAN></Id></Acct>
		<Bal><Tp><CdOrPrtry><Cd>OPBD</Cd></CdOrPrtry></Tp><Amt>100.00</Amt></Bal>
		<Bal><Tp><CdOrPrtry><Cd>CLBD</Cd></CdOrPrtry></Tp><Amt>106.00</Amt></Bal>
		<Ntry><Amt Ccy="EUR">10.00</Amt><CdtDbtInd>CRDT</CdtDbtInd><Sts>BOOK</Sts></Ntry>
		<Ntry><Amt Ccy="EUR">4.00</Amt><CdtDbtInd>DBIT</CdtDbtInd><Sts>BOOK</Sts></Ntry>
	</Stmt></BkToCstmrStmt></Document>`

	opening, closing, hasOpen, hasClose, err := Balances([]byte(doc))
	require.NoError(t, err)
	require.True(t, hasOpen)
	require.True(t, hasClose)
	require.Equal(t, "100.00", opening)
	require.Equal(t, "106.00", closing)
	// sum(credits) - sum(debits) == closing - opening: 10 - 4 == 106 - 100 == 6.
}

func TestValidateIBAN(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateIBAN("DE89370400440532013000"))
	require.Error(t, ValidateIBAN("not-an-iban"))
	require.Error(t, ValidateIBAN("DE00370400440532013000")) // bad checksum.
}

func TestValidateBIC(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateBIC("COBADEFFXXX"))
	require.NoError(t, ValidateBIC("COBADEFF"))
	require.Error(t, ValidateBIC("not-a-BIC"))
}
