package model

// Page is one raw OCR page as delivered by the parsing collaborator, before
// document boundaries are known. Fields that the parser could not fill are
// empty strings; the grouper falls back to scanning Body for them.
type Page struct {
	Supplier  string
	Reference string
	VATNumber string
	Body      string
}
