package store

import "bytes"

// RenderListPage assembles the spec.md §6 list envelope
// {"result": [...], "paging_metadata": {"cursor": "..."}} directly from
// each Record's stored DocBytes, without parsing and re-encoding any
// document — the bytes were already canonicalized at write time, so
// concatenation with separators is sufficient and avoids an otherwise
// pointless decode/recode round trip on every list request.
func RenderListPage(page *ListPage) []byte {
	var buf bytes.Buffer
	buf.WriteString(`{"result":[`)
	for i, rec := range page.Items {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(rec.DocBytes)
	}
	buf.WriteString(`],"paging_metadata":{"cursor":`)
	buf.Write(quoteJSONString(page.NextCursor))
	buf.WriteString(`}}`)
	return buf.Bytes()
}

// RenderBulk assembles the SPEC_FULL.md §12 bulk-get-by-ids envelope
// {"result": [...]}, preserving the input order and emitting JSON null
// for any id that GetMany reported absent, so callers can recover
// per-index not-found rather than the whole batch failing.
func RenderBulk(records []*Record) []byte {
	var buf bytes.Buffer
	buf.WriteString(`{"result":[`)
	for i, rec := range records {
		if i > 0 {
			buf.WriteByte(',')
		}
		if rec == nil {
			buf.WriteString("null")
			continue
		}
		buf.Write(rec.DocBytes)
	}
	buf.WriteString(`]}`)
	return buf.Bytes()
}

// quoteJSONString renders s as a JSON string literal. Cursor tokens are
// base64url output (EncodeCursor) so no escaping beyond surrounding
// quotes is ever required in practice, but we still escape defensively
// since this bypasses encoding/json.
func quoteJSONString(s string) []byte {
	var buf bytes.Buffer
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"', '\\':
			buf.WriteByte('\\')
			buf.WriteRune(r)
		default:
			buf.WriteRune(r)
		}
	}
	buf.WriteByte('"')
	return buf.Bytes()
}
