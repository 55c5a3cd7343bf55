package ingest

// Column headers of the "Notas Fiscais" exports, in the order they are kept.
const (
	ColAccessKey = "CHAVE DE ACESSO"

	ColIssueDate          = "DATA EMISSÃO"
	ColIssuerTaxID        = "CPF/CNPJ Emitente"
	ColIssuerName         = "RAZÃO SOCIAL EMITENTE"
	ColIssuerState        = "UF EMITENTE"
	ColIssuerMunicipality = "MUNICÍPIO EMITENTE"
	ColRecipientTaxID     = "CNPJ DESTINATÁRIO"
	ColRecipientName      = "NOME DESTINATÁRIO"
	ColRecipientState     = "UF DESTINATÁRIO"
	ColInvoiceTotal       = "VALOR NOTA FISCAL"
	ColProductNumber      = "NÚMERO PRODUTO"
	ColProductDescription = "DESCRIÇÃO DO PRODUTO/SERVIÇO"
	ColNCMCode            = "CÓDIGO NCM/SH"
	ColCFOP               = "CFOP"
	ColQuantity           = "QUANTIDADE"
	ColUnit               = "UNIDADE"
	ColUnitValue          = "VALOR UNITÁRIO"
	ColItemTotal          = "VALOR TOTAL"
)

// HeaderColumns is the whitelist read from the header dataset.
var HeaderColumns = []string{
	ColAccessKey, ColIssueDate, ColIssuerTaxID, ColIssuerName, ColIssuerState,
	ColIssuerMunicipality, ColRecipientTaxID, ColRecipientName, ColRecipientState, ColInvoiceTotal,
}

// ItemColumns is the whitelist read from the item dataset.
var ItemColumns = []string{
	ColAccessKey, ColProductNumber, ColProductDescription, ColNCMCode, ColCFOP,
	ColQuantity, ColUnit, ColUnitValue, ColItemTotal,
}

// InvoiceHeader is one invoice ("cabeçalho") row.
type InvoiceHeader struct {
	AccessKey          string
	IssueDate          string
	IssuerTaxID        string
	IssuerName         string
	IssuerState        string
	IssuerMunicipality string
	RecipientTaxID     string
	RecipientName      string
	RecipientState     string
	InvoiceTotal       string
}

// InvoiceItem is one line item row.
type InvoiceItem struct {
	AccessKey     string
	ProductNumber string
	Description   string
	NCMCode       string
	CFOP          string
	Quantity      string
	Unit          string
	UnitValue     string
	TotalValue    string
}

// MergedRecord is an item left-joined with its header. Header is nil when
// no header row shares the item's access key.
type MergedRecord struct {
	Item   InvoiceItem
	Header *InvoiceHeader
}

// HeadersFromTable maps a table read with HeaderColumns to header records.
func HeadersFromTable(t *Table) []InvoiceHeader {
	out := make([]InvoiceHeader, 0, len(t.Rows))
	for i := range t.Rows {
		out = append(out, InvoiceHeader{
			AccessKey:          t.Value(i, ColAccessKey),
			IssueDate:          t.Value(i, ColIssueDate),
			IssuerTaxID:        t.Value(i, ColIssuerTaxID),
			IssuerName:         t.Value(i, ColIssuerName),
			IssuerState:        t.Value(i, ColIssuerState),
			IssuerMunicipality: t.Value(i, ColIssuerMunicipality),
			RecipientTaxID:     t.Value(i, ColRecipientTaxID),
			RecipientName:      t.Value(i, ColRecipientName),
			RecipientState:     t.Value(i, ColRecipientState),
			InvoiceTotal:       t.Value(i, ColInvoiceTotal),
		})
	}
	return out
}

// ItemsFromTable maps a table read with ItemColumns to item records.
func ItemsFromTable(t *Table) []InvoiceItem {
	out := make([]InvoiceItem, 0, len(t.Rows))
	for i := range t.Rows {
		out = append(out, InvoiceItem{
			AccessKey:     t.Value(i, ColAccessKey),
			ProductNumber: t.Value(i, ColProductNumber),
			Description:   t.Value(i, ColProductDescription),
			NCMCode:       t.Value(i, ColNCMCode),
			CFOP:          t.Value(i, ColCFOP),
			Quantity:      t.Value(i, ColQuantity),
			Unit:          t.Value(i, ColUnit),
			UnitValue:     t.Value(i, ColUnitValue),
			TotalValue:    t.Value(i, ColItemTotal),
		})
	}
	return out
}

func (h *InvoiceHeader) values() []string {
	if h == nil {
		return make([]string, len(HeaderColumns)-1)
	}
	return []string{
		h.IssueDate, h.IssuerTaxID, h.IssuerName, h.IssuerState, h.IssuerMunicipality,
		h.RecipientTaxID, h.RecipientName, h.RecipientState, h.InvoiceTotal,
	}
}

func (it InvoiceItem) values() []string {
	return []string{
		it.AccessKey, it.ProductNumber, it.Description, it.NCMCode, it.CFOP,
		it.Quantity, it.Unit, it.UnitValue, it.TotalValue,
	}
}
