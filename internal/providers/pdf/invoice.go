package pdf

import (
	"context"
	"strconv"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// Document is the printable form of an invoice. Amounts are preformatted.
type Document struct {
	Title  string
	Number string
	Date   string

	SellerName    string
	SellerAddress []string
	SellerVAT     string

	CustomerName    string
	CustomerContact string
	CustomerAddress []string
	CustomerVAT     string
	CustomerNumber  string

	Lines []Line

	Subtotal      string
	VATLabel      string
	VAT           string
	Total         string
	ReverseCharge bool
	Footer        string
}

type Line struct {
	Name        string
	Description string
	Amount      int64
	UnitPrice   string
	Price       string
}

type MarotoRenderer struct{}

func New() Renderer {
	return &MarotoRenderer{}
}

func (r *MarotoRenderer) RenderInvoice(ctx context.Context, doc Document) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Pagina {current} van {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(12,
		text.NewCol(8, doc.Title, props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, doc.SellerName, props.Text{
			Size:  12,
			Style: fontstyle.Bold,
			Align: align.Right,
		}),
	)

	meta := col.New(6)
	if doc.Number != "" {
		meta.Add(text.New("Factuurnummer: "+doc.Number, props.Text{Top: 0}))
	}
	if doc.Date != "" {
		meta.Add(text.New("Factuurdatum: "+doc.Date, props.Text{Top: 4}))
	}
	seller := col.New(6)
	for i, line := range doc.SellerAddress {
		seller.Add(text.New(line, props.Text{Top: float64(i * 4), Align: align.Right}))
	}
	if doc.SellerVAT != "" {
		seller.Add(text.New("BTW "+doc.SellerVAT, props.Text{Top: float64(len(doc.SellerAddress) * 4), Align: align.Right}))
	}
	m.AddRow(20, meta, seller)

	customer := col.New(12)
	customer.Add(text.New(doc.CustomerName, props.Text{Style: fontstyle.Bold}))
	top := 5.0
	if doc.CustomerContact != "" {
		customer.Add(text.New(doc.CustomerContact, props.Text{Top: top}))
		top += 4
	}
	for _, line := range doc.CustomerAddress {
		customer.Add(text.New(line, props.Text{Top: top}))
		top += 4
	}
	if doc.CustomerVAT != "" {
		customer.Add(text.New("BTW "+doc.CustomerVAT, props.Text{Top: top}))
		top += 4
	}
	if doc.CustomerNumber != "" {
		customer.Add(text.New("Ondernemingsnummer "+doc.CustomerNumber, props.Text{Top: top}))
	}
	m.AddRow(35, customer)

	m.AddRow(10,
		text.NewCol(6, "Omschrijving", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Aantal", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Eenheidsprijs", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Prijs", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	for _, line := range doc.Lines {
		desc := col.New(6).Add(text.New(line.Name, props.Text{Size: 9, Style: fontstyle.Bold}))
		if line.Description != "" {
			desc.Add(text.New(line.Description, props.Text{Size: 8, Top: 4}))
		}
		m.AddRow(12,
			desc,
			text.NewCol(2, strconv.FormatInt(line.Amount, 10), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, line.UnitPrice, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, line.Price, props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(8,
		col.New(8),
		text.NewCol(2, "Subtotaal", props.Text{Size: 9}),
		text.NewCol(2, doc.Subtotal, props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(8,
		col.New(8),
		text.NewCol(2, doc.VATLabel, props.Text{Size: 9}),
		text.NewCol(2, doc.VAT, props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "Totaal", props.Text{Style: fontstyle.Bold, Size: 10}),
		text.NewCol(2, doc.Total, props.Text{Style: fontstyle.Bold, Size: 10, Align: align.Right}),
	)

	if doc.ReverseCharge {
		m.AddRow(10, text.NewCol(12, "BTW verlegd, art. 196 richtlijn 2006/112/EG", props.Text{Size: 8, Top: 3}))
	}
	if doc.Footer != "" {
		m.AddRow(10, text.NewCol(12, doc.Footer, props.Text{Size: 8, Top: 3}))
	}

	out, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return out.GetBytes(), nil
}
