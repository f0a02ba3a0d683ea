package iso20022

import (
	"fmt"
	"strings"
	"time"

	"github.com/nexusbank/gateway/internal/xmlutil"
)

// ParseCamt parses a camt.052 (BkToCstmrAcctRpt) or camt.053
// (BkToCstmrStmt) document into normalized transactions, one per TxDtls
// (or one per Ntry when no TxDtls are present).
func ParseCamt(doc []byte) ([]Transaction, error) {
	root, err := xmlutil.Parse(doc)
	if err != nil {
		return nil, fmt.Errorf("parse camt document: %w", err)
	}
	if err := xmlutil.RequireRoot(root, "Document"); err != nil {
		return nil, fmt.Errorf("camt document: %w", err)
	}

	var body *xmlutil.Node
	for _, want := range []string{"BkToCstmrAcctRpt", "BkToCstmrStmt"} {
		if n, _ := xmlutil.MaybeUniqueChild(root, want); n != nil {
			body = n
			break
		}
	}
	if body == nil {
		return nil, fmt.Errorf("camt document: expected BkToCstmrAcctRpt or BkToCstmrStmt child of Document")
	}

	reportTag := "Rpt"
	if body.Local == "BkToCstmrStmt" {
		reportTag = "Stmt"
	}

	var out []Transaction
	err = xmlutil.MapEachChild(body, reportTag, func(rpt *xmlutil.Node) error {
		iban, err := reportIBAN(rpt)
		if err != nil {
			return err
		}
		return xmlutil.MapEachChild(rpt, "Ntry", func(ntry *xmlutil.Node) error {
			txs, err := parseEntry(ntry, iban)
			if err != nil {
				return err
			}
			out = append(out, txs...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ParseCamtMsgID extracts GrpHdr/MsgId, the bank-assigned identifier of the
// whole document. This, not a content hash, is the value callers must use
// to deduplicate repeated downloads of the same bank message.
func ParseCamtMsgID(doc []byte) (string, error) {
	root, err := xmlutil.Parse(doc)
	if err != nil {
		return "", fmt.Errorf("parse camt document: %w", err)
	}
	if err := xmlutil.RequireRoot(root, "Document"); err != nil {
		return "", fmt.Errorf("camt document: %w", err)
	}

	var body *xmlutil.Node
	for _, want := range []string{"BkToCstmrAcctRpt", "BkToCstmrStmt"} {
		if n, _ := xmlutil.MaybeUniqueChild(root, want); n != nil {
			body = n
			break
		}
	}
	if body == nil {
		return "", fmt.Errorf("camt document: expected BkToCstmrAcctRpt or BkToCstmrStmt child of Document")
	}

	grpHdr, err := xmlutil.RequireUniqueChild(body, "GrpHdr")
	if err != nil {
		return "", fmt.Errorf("camt document: %w", err)
	}
	msgID, err := xmlutil.RequireUniqueChild(grpHdr, "MsgId")
	if err != nil {
		return "", fmt.Errorf("GrpHdr missing MsgId: %w", err)
	}
	return msgID.TrimmedText(), nil
}

// Balances extracts the opening and closing booked balances of a camt.053
// statement, if present, for the testable invariant relating
// sum(credits)-sum(debits) to closing-opening.
func Balances(doc []byte) (opening, closing string, hasOpening, hasClosing bool, err error) {
	root, err := xmlutil.Parse(doc)
	if err != nil {
		return "", "", false, false, fmt.Errorf("parse camt document: %w", err)
	}
	stmt, err := xmlutil.RequireUniqueChild(root, "BkToCstmrStmt")
	if err != nil {
		return "", "", false, false, nil //nolint:nilerr // camt.052 has no balances; absence is not an error here.
	}
	rpt, err := xmlutil.RequireUniqueChild(stmt, "Stmt")
	if err != nil {
		return "", "", false, false, err
	}
	err = xmlutil.MapEachChild(rpt, "Bal", func(bal *xmlutil.Node) error {
		cdCode, err := balanceTypeCode(bal)
		if err != nil {
			return err
		}
		amtNode, err := xmlutil.RequireUniqueChild(bal, "Amt")
		if err != nil {
			return err
		}
		switch cdCode {
		case "OPBD":
			opening, hasOpening = amtNode.TrimmedText(), true
		case "CLBD":
			closing, hasClosing = amtNode.TrimmedText(), true
		}
		return nil
	})
	return opening, closing, hasOpening, hasClosing, err
}

func balanceTypeCode(bal *xmlutil.Node) (string, error) {
	tp, err := xmlutil.RequireUniqueChild(bal, "Tp")
	if err != nil {
		return "", err
	}
	cdOrPrtry, err := xmlutil.RequireUniqueChild(tp, "CdOrPrtry")
	if err != nil {
		return "", err
	}
	cd, err := xmlutil.RequireUniqueChild(cdOrPrtry, "Cd")
	if err != nil {
		return "", err
	}
	return cd.TrimmedText(), nil
}

func reportIBAN(rpt *xmlutil.Node) (string, error) {
	acct, err := xmlutil.RequireUniqueChild(rpt, "Acct")
	if err != nil {
		return "", fmt.Errorf("report missing Acct: %w", err)
	}
	id, err := xmlutil.RequireUniqueChild(acct, "Id")
	if err != nil {
		return "", fmt.Errorf("account missing Id: %w", err)
	}
	iban, err := xmlutil.RequireUniqueChild(id, "IBAN")
	if err != nil {
		return "", fmt.Errorf("account Id missing IBAN: %w", err)
	}
	return iban.TrimmedText(), nil
}

func parseEntry(ntry *xmlutil.Node, bookingIBAN string) ([]Transaction, error) {
	amtNode, err := xmlutil.RequireUniqueChild(ntry, "Amt")
	if err != nil {
		return nil, fmt.Errorf("entry missing Amt: %w", err)
	}
	currency := amtNode.Attr("Ccy")

	status, err := entryStatus(ntry)
	if err != nil {
		return nil, err
	}
	direction, err := entryDirection(ntry)
	if err != nil {
		return nil, err
	}
	btc := entryBankTransactionCode(ntry)

	bookingDate, valueDate := entryDates(ntry)

	details, err := entryDetails(ntry)
	if err != nil {
		return nil, err
	}

	btchBookg, hasBtchBookg := entryBtchBookg(ntry)
	isBatch := len(details) > 1
	batchMismatch := hasBtchBookg && btchBookg != isBatch

	if len(details) == 0 {
		// No TxDtls: the entry itself carries one implicit transaction.
		return []Transaction{{
			BookingAccountIBAN:  bookingIBAN,
			Amount:              amtNode.TrimmedText(),
			Currency:            currency,
			Status:              status,
			Direction:           direction,
			BankTransactionCode: btc,
			BookingDateUnixMs:   bookingDate,
			ValueDateUnixMs:     valueDate,
			IsBatch:             false,
			BatchMismatch:       batchMismatch,
		}}, nil
	}

	out := make([]Transaction, 0, len(details))
	for _, d := range details {
		tx := d
		tx.BookingAccountIBAN = bookingIBAN
		tx.Currency = currency
		tx.Status = status
		tx.Direction = direction
		tx.BankTransactionCode = btc
		tx.BookingDateUnixMs = bookingDate
		tx.ValueDateUnixMs = valueDate
		tx.IsBatch = isBatch
		tx.BatchMismatch = batchMismatch
		if tx.Amount == "" {
			tx.Amount = amtNode.TrimmedText()
		}
		out = append(out, tx)
	}
	return out, nil
}

func entryStatus(ntry *xmlutil.Node) (Status, error) {
	sts, err := xmlutil.RequireUniqueChild(ntry, "Sts")
	if err != nil {
		return "", fmt.Errorf("entry missing Sts: %w", err)
	}
	switch sts.TrimmedText() {
	case "BOOK":
		return StatusBooked, nil
	case "PDNG":
		return StatusPending, nil
	default:
		return "", fmt.Errorf("entry has unknown Sts value %q", sts.TrimmedText())
	}
}

func entryDirection(ntry *xmlutil.Node) (Direction, error) {
	ind, err := xmlutil.RequireUniqueChild(ntry, "CdtDbtInd")
	if err != nil {
		return "", fmt.Errorf("entry missing CdtDbtInd: %w", err)
	}
	switch ind.TrimmedText() {
	case "CRDT":
		return DirectionCredit, nil
	case "DBIT":
		return DirectionDebit, nil
	default:
		return "", fmt.Errorf("entry has unknown CdtDbtInd value %q", ind.TrimmedText())
	}
}

func entryBankTransactionCode(ntry *xmlutil.Node) BankTransactionCode {
	var btc BankTransactionCode
	bkTxCd, _ := xmlutil.MaybeUniqueChild(ntry, "BkTxCd")
	if bkTxCd == nil {
		return btc
	}
	if domn, _ := xmlutil.MaybeUniqueChild(bkTxCd, "Domn"); domn != nil {
		if cd, err := xmlutil.RequireUniqueChild(domn, "Cd"); err == nil {
			btc.Domain = cd.TrimmedText()
		}
		if fam, err := xmlutil.RequireUniqueChild(domn, "Fmly"); err == nil {
			if cd, err := xmlutil.RequireUniqueChild(fam, "Cd"); err == nil {
				btc.Family = cd.TrimmedText()
			}
			if sub, err := xmlutil.RequireUniqueChild(fam, "SubFmlyCd"); err == nil {
				btc.Subfamily = sub.TrimmedText()
			}
		}
	}
	if prtry, _ := xmlutil.MaybeUniqueChild(bkTxCd, "Prtry"); prtry != nil {
		issuer := ""
		if iss, err := xmlutil.RequireUniqueChild(prtry, "Issr"); err == nil {
			issuer = iss.TrimmedText()
		}
		code := ""
		if cd, err := xmlutil.RequireUniqueChild(prtry, "Cd"); err == nil {
			code = cd.TrimmedText()
		}
		if issuer != "" || code != "" {
			btc.Proprietary = issuer + ":" + code
		}
	}
	return btc
}

func entryBtchBookg(ntry *xmlutil.Node) (value bool, present bool) {
	n, _ := xmlutil.MaybeUniqueChild(ntry, "BtchBookg")
	if n == nil {
		return false, false
	}
	return n.TrimmedText() == "true", true
}

func entryDates(ntry *xmlutil.Node) (bookingMs, valueMs int64) {
	if bookingDt, _ := xmlutil.MaybeUniqueChild(ntry, "BookgDt"); bookingDt != nil {
		bookingMs = parseDtTm(bookingDt)
	}
	if valueDt, _ := xmlutil.MaybeUniqueChild(ntry, "ValDt"); valueDt != nil {
		valueMs = parseDtTm(valueDt)
	}
	return bookingMs, valueMs
}

func parseDtTm(n *xmlutil.Node) int64 {
	if dt, _ := xmlutil.MaybeUniqueChild(n, "Dt"); dt != nil {
		if t, err := time.Parse("2006-01-02", dt.TrimmedText()); err == nil {
			return t.UnixMilli()
		}
	}
	if dtTm, _ := xmlutil.MaybeUniqueChild(n, "DtTm"); dtTm != nil {
		if t, err := time.Parse(time.RFC3339, dtTm.TrimmedText()); err == nil {
			return t.UnixMilli()
		}
	}
	return 0
}

func entryDetails(ntry *xmlutil.Node) ([]Transaction, error) {
	ntryDtls, _ := xmlutil.MaybeUniqueChild(ntry, "NtryDtls")
	if ntryDtls == nil {
		return nil, nil
	}
	var out []Transaction
	err := xmlutil.MapEachChild(ntryDtls, "TxDtls", func(tx *xmlutil.Node) error {
		parsed, err := parseTxDtls(tx)
		if err != nil {
			return err
		}
		out = append(out, parsed)
		return nil
	})
	return out, err
}

func parseTxDtls(tx *xmlutil.Node) (Transaction, error) {
	var out Transaction

	if amt, _ := xmlutil.MaybeUniqueChild(tx, "Amt"); amt != nil {
		out.Amount = amt.TrimmedText()
	}

	if refs, _ := xmlutil.MaybeUniqueChild(tx, "Refs"); refs != nil {
		if e2e, _ := xmlutil.MaybeUniqueChild(refs, "EndToEndId"); e2e != nil {
			out.EndToEndID = e2e.TrimmedText()
		}
		if acctSvcrRef, _ := xmlutil.MaybeUniqueChild(refs, "AcctSvcrRef"); acctSvcrRef != nil {
			out.BankEntryReference = acctSvcrRef.TrimmedText()
		}
	}

	if rltdPties, _ := xmlutil.MaybeUniqueChild(tx, "RltdPties"); rltdPties != nil {
		parseRelatedParties(rltdPties, &out)
	}

	if rmtInf, _ := xmlutil.MaybeUniqueChild(tx, "RmtInf"); rmtInf != nil {
		var remit string
		_ = xmlutil.MapEachChild(rmtInf, "Ustrd", func(n *xmlutil.Node) error {
			remit += n.TrimmedText()
			return nil
		})
		out.UnstructuredRemit = remit
	}

	return out, nil
}

func parseRelatedParties(rltdPties *xmlutil.Node, out *Transaction) {
	extractParty := func(tag string) (iban, bic, name string) {
		node, _ := xmlutil.MaybeUniqueChild(rltdPties, tag)
		if node == nil {
			return "", "", ""
		}
		if pty, _ := xmlutil.MaybeUniqueChild(node, "Pty"); pty != nil {
			if nm, _ := xmlutil.MaybeUniqueChild(pty, "Nm"); nm != nil {
				name = nm.TrimmedText()
			}
		}
		if acct, _ := xmlutil.MaybeUniqueChild(node, "Id"); acct != nil {
			if ibanNode := xmlutil.FindFirst(acct, "IBAN"); ibanNode != nil {
				iban = ibanNode.TrimmedText()
			}
		}
		return iban, bic, name
	}

	if iban, _, name := extractParty("Cdtr"); iban != "" || name != "" {
		out.CounterpartIBAN, out.CounterpartName = iban, name
	}
	if iban, _, name := extractParty("Dbtr"); iban != "" || name != "" {
		out.CounterpartIBAN, out.CounterpartName = iban, name
	}
	if agt, _ := xmlutil.MaybeUniqueChild(rltdPties, "CdtrAgt"); agt != nil {
		if bic := xmlutil.FindFirst(agt, "BICFI"); bic != nil {
			out.CounterpartBIC = bic.TrimmedText()
		}
	}
	if agt, _ := xmlutil.MaybeUniqueChild(rltdPties, "DbtrAgt"); agt != nil {
		if bic := xmlutil.FindFirst(agt, "BICFI"); bic != nil {
			out.CounterpartBIC = bic.TrimmedText()
		}
	}
}

// EmitCamt053 renders a camt.053.001.02 bank-to-customer statement carrying
// one Ntry per transaction, each with exactly one TxDtls, the shape
// ParseCamt recovers without loss. It is the demo-bank simulator's
// counterpart to EmitPain001: transactions flow the opposite direction,
// from the bank's ledger back out to the subscriber.
func EmitCamt053(iban, msgID, creationDateTime string, openingBal, closingBal string, txs []Transaction) ([]byte, error) {
	var b strings.Builder
	b.WriteString(xmlHeader)
	b.WriteString(`<Document xmlns="urn:iso:std:iso:20022:tech:xsd:camt.053.001.02">`)
	b.WriteString(`<BkToCstmrStmt>`)

	b.WriteString(`<GrpHdr>`)
	fmt.Fprintf(&b, `<MsgId>%s</MsgId>`, escape(msgID))
	fmt.Fprintf(&b, `<CreDtTm>%s</CreDtTm>`, escape(creationDateTime))
	b.WriteString(`</GrpHdr>`)

	b.WriteString(`<Stmt>`)
	fmt.Fprintf(&b, `<Id>%s</Id>`, escape(msgID))
	fmt.Fprintf(&b, `<CreDtTm>%s</CreDtTm>`, escape(creationDateTime))
	b.WriteString(`<Acct><Id>`)
	fmt.Fprintf(&b, `<IBAN>%s</IBAN>`, escape(iban))
	b.WriteString(`</Id></Acct>`)

	currency := "EUR"
	for _, tx := range txs {
		if tx.Currency != "" {
			currency = tx.Currency
			break
		}
	}
	writeBalance(&b, "OPBD", currency, openingBal)
	writeBalance(&b, "CLBD", currency, closingBal)

	for _, tx := range txs {
		writeCamtEntry(&b, tx)
	}

	b.WriteString(`</Stmt>`)
	b.WriteString(`</BkToCstmrStmt>`)
	b.WriteString(`</Document>`)
	return []byte(b.String()), nil
}

func writeBalance(b *strings.Builder, code, currency, amount string) {
	if amount == "" {
		amount = "0.00"
	}
	b.WriteString(`<Bal><Tp><CdOrPrtry>`)
	fmt.Fprintf(b, `<Cd>%s</Cd>`, code)
	b.WriteString(`</CdOrPrtry></Tp>`)
	fmt.Fprintf(b, `<Amt Ccy="%s">%s</Amt>`, escape(currency), escape(amount))
	b.WriteString(`</Bal>`)
}

func writeCamtEntry(b *strings.Builder, tx Transaction) {
	b.WriteString(`<Ntry>`)
	fmt.Fprintf(b, `<Amt Ccy="%s">%s</Amt>`, escape(tx.Currency), escape(tx.Amount))
	fmt.Fprintf(b, `<CdtDbtInd>%s</CdtDbtInd>`, string(tx.Direction))
	status := "BOOK"
	if tx.Status == StatusPending {
		status = "PDNG"
	}
	fmt.Fprintf(b, `<Sts>%s</Sts>`, status)
	if tx.BookingDateUnixMs > 0 {
		fmt.Fprintf(b, `<BookgDt><Dt>%s</Dt></BookgDt>`, time.UnixMilli(tx.BookingDateUnixMs).UTC().Format("2006-01-02"))
	}
	if tx.ValueDateUnixMs > 0 {
		fmt.Fprintf(b, `<ValDt><Dt>%s</Dt></ValDt>`, time.UnixMilli(tx.ValueDateUnixMs).UTC().Format("2006-01-02"))
	}
	writeBankTransactionCode(b, tx.BankTransactionCode)

	b.WriteString(`<NtryDtls><TxDtls>`)
	b.WriteString(`<Refs>`)
	if tx.EndToEndID != "" {
		fmt.Fprintf(b, `<EndToEndId>%s</EndToEndId>`, escape(tx.EndToEndID))
	}
	if tx.BankEntryReference != "" {
		fmt.Fprintf(b, `<AcctSvcrRef>%s</AcctSvcrRef>`, escape(tx.BankEntryReference))
	}
	b.WriteString(`</Refs>`)
	fmt.Fprintf(b, `<Amt Ccy="%s">%s</Amt>`, escape(tx.Currency), escape(tx.Amount))

	counterpartTag := "Cdtr"
	if tx.Direction == DirectionCredit {
		counterpartTag = "Dbtr"
	}
	b.WriteString(`<RltdPties>`)
	fmt.Fprintf(b, `<%s>`, counterpartTag)
	b.WriteString(`<Pty>`)
	fmt.Fprintf(b, `<Nm>%s</Nm>`, escape(tx.CounterpartName))
	b.WriteString(`</Pty>`)
	if tx.CounterpartIBAN != "" {
		b.WriteString(`<Id>`)
		fmt.Fprintf(b, `<IBAN>%s</IBAN>`, escape(tx.CounterpartIBAN))
		b.WriteString(`</Id>`)
	}
	fmt.Fprintf(b, `</%s>`, counterpartTag)
	if tx.CounterpartBIC != "" {
		agentTag := "CdtrAgt"
		if tx.Direction == DirectionCredit {
			agentTag = "DbtrAgt"
		}
		fmt.Fprintf(b, `<%s><FinInstnId>`, agentTag)
		fmt.Fprintf(b, `<BICFI>%s</BICFI>`, escape(tx.CounterpartBIC))
		fmt.Fprintf(b, `</FinInstnId></%s>`, agentTag)
	}
	b.WriteString(`</RltdPties>`)

	if tx.UnstructuredRemit != "" {
		b.WriteString(`<RmtInf>`)
		fmt.Fprintf(b, `<Ustrd>%s</Ustrd>`, escape(tx.UnstructuredRemit))
		b.WriteString(`</RmtInf>`)
	}
	b.WriteString(`</TxDtls></NtryDtls>`)
	b.WriteString(`</Ntry>`)
}

func writeBankTransactionCode(b *strings.Builder, btc BankTransactionCode) {
	if !btc.HasISO() && btc.Proprietary == "" {
		return
	}
	b.WriteString(`<BkTxCd>`)
	if btc.HasISO() {
		b.WriteString(`<Domn>`)
		fmt.Fprintf(b, `<Cd>%s</Cd>`, escape(btc.Domain))
		b.WriteString(`<Fmly>`)
		fmt.Fprintf(b, `<Cd>%s</Cd>`, escape(btc.Family))
		fmt.Fprintf(b, `<SubFmlyCd>%s</SubFmlyCd>`, escape(btc.Subfamily))
		b.WriteString(`</Fmly>`)
		b.WriteString(`</Domn>`)
	}
	if btc.Proprietary != "" {
		issuer, code, _ := strings.Cut(btc.Proprietary, ":")
		b.WriteString(`<Prtry>`)
		fmt.Fprintf(b, `<Cd>%s</Cd>`, escape(code))
		fmt.Fprintf(b, `<Issr>%s</Issr>`, escape(issuer))
		b.WriteString(`</Prtry>`)
	}
	b.WriteString(`</BkTxCd>`)
}

// ParseHTD parses the ad-hoc account information download (HTD) into
// discovered accounts. The exact wire shape is intentionally treated as an
// internal contract, not a versioned external one: unknown elements are
// skipped rather than rejected.
func ParseHTD(doc []byte) ([]AccountInfo, error) {
	root, err := xmlutil.Parse(doc)
	if err != nil {
		return nil, fmt.Errorf("parse htd document: %w", err)
	}
	var out []AccountInfo
	_ = xmlutil.MapEachChild(root, "Account", func(n *xmlutil.Node) error {
		info := AccountInfo{
			IBAN: n.Attr("iban"),
			BIC:  n.Attr("bic"),
			Name: n.Attr("name"),
		}
		if info.IBAN == "" {
			if iban, _ := xmlutil.MaybeUniqueChild(n, "IBAN"); iban != nil {
				info.IBAN = iban.TrimmedText()
			}
		}
		if info.IBAN != "" {
			out = append(out, info)
		}
		return nil
	})
	return out, nil
}

// EmitHTD is the inverse of ParseHTD, rendering the accounts a bank host
// knows about for a partner into the same ad-hoc wire shape.
func EmitHTD(accounts []AccountInfo) []byte {
	var b strings.Builder
	b.WriteString(xmlHeader)
	b.WriteString(`<HTDResponseOrderData>`)
	for _, a := range accounts {
		fmt.Fprintf(&b, `<Account iban=%q bic=%q name=%q/>`, a.IBAN, a.BIC, a.Name)
	}
	b.WriteString(`</HTDResponseOrderData>`)
	return []byte(b.String())
}
