package glbuild

// Token is an identifier found while scanning GLSL source with [AppendRewritten].
type Token struct {
	// Ident is the identifier text.
	Ident []byte
	// AfterDot is true when the identifier is the right hand side of a member
	// access or swizzle, i.e: the "rgb" in "color.rgb".
	AfterDot bool
	// Member is the identifier following a '.' right after Ident, if any.
	// For "first.diffuse" the token for "first" has Member "diffuse".
	Member []byte
}

// RewriteFunc is called for every identifier found in source. It appends the
// replacement for tok to dst and returns the result. If replaced is false the
// original identifier is kept and the returned dst is ignored.
type RewriteFunc func(dst []byte, tok Token) (newdst []byte, replaced bool, err error)

// AppendRewritten scans GLSL source src and appends it to dst with identifiers
// replaced according to fn. Comments and numeric literals are copied verbatim.
func AppendRewritten(dst, src []byte, fn RewriteFunc) ([]byte, error) {
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			end := i + 2
			for end < len(src) && src[end] != '\n' {
				end++
			}
			dst = append(dst, src[i:end]...)
			i = end

		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			end := i + 2
			for end+1 < len(src) && !(src[end] == '*' && src[end+1] == '/') {
				end++
			}
			end = min(end+2, len(src))
			dst = append(dst, src[i:end]...)
			i = end

		case isDigit(c):
			end := scanNumber(src, i)
			dst = append(dst, src[i:end]...)
			i = end

		case isIdentStart(c):
			end := scanIdent(src, i)
			tok := Token{
				Ident:    src[i:end],
				AfterDot: precededByDot(src, i),
				Member:   memberAfter(src, end),
			}
			start := len(dst)
			newdst, replaced, err := fn(dst, tok)
			if err != nil {
				return dst, err
			}
			if replaced {
				dst = newdst
			} else {
				dst = append(dst[:start], tok.Ident...)
			}
			i = end

		default:
			dst = append(dst, c)
			i++
		}
	}
	return dst, nil
}

// AppendFunctionNames appends the names of the functions declared or defined
// at the top level of GLSL source src to dst. A name is reported once per
// declaration, so a prototype followed by its definition yields it twice.
func AppendFunctionNames(dst [][]byte, src []byte) [][]byte {
	depth := 0
	prevIdent := false // previous token at top level was an identifier
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			for i < len(src) && src[i] != '\n' {
				i++
			}
			continue
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			end := i + 2
			for end+1 < len(src) && !(src[end] == '*' && src[end+1] == '/') {
				end++
			}
			i = min(end+2, len(src))
			continue
		case isSpace(c):
			i++
			continue
		case isDigit(c):
			i = scanNumber(src, i)
			prevIdent = false
			continue
		case isIdentStart(c):
			end := scanIdent(src, i)
			if depth == 0 && prevIdent {
				if j := skipSpace(src, end); j < len(src) && src[j] == '(' {
					dst = append(dst, src[i:end])
				}
			}
			prevIdent = true
			i = end
			continue
		case c == '{' || c == '(':
			depth++
		case c == '}' || c == ')':
			depth = max(depth-1, 0)
		}
		prevIdent = false
		i++
	}
	return dst
}

// IsIdent reports whether b is a valid GLSL identifier.
func IsIdent(b []byte) bool {
	if len(b) == 0 || !isIdentStart(b[0]) {
		return false
	}
	return scanIdent(b, 0) == len(b)
}

func scanIdent(src []byte, i int) int {
	for i < len(src) && (isIdentStart(src[i]) || isDigit(src[i])) {
		i++
	}
	return i
}

// scanNumber consumes a numeric literal such as 1, 0.5, 1e-3, 2.0f or 0xffu.
func scanNumber(src []byte, i int) int {
	hex := i+1 < len(src) && src[i] == '0' && (src[i+1] == 'x' || src[i+1] == 'X')
	for i < len(src) {
		c := src[i]
		switch {
		case isDigit(c) || isIdentStart(c) || c == '.':
			i++
		case (c == '+' || c == '-') && !hex && (src[i-1] == 'e' || src[i-1] == 'E'):
			i++
		default:
			return i
		}
	}
	return i
}

func precededByDot(src []byte, i int) bool {
	for i--; i >= 0; i-- {
		if !isSpace(src[i]) {
			return src[i] == '.'
		}
	}
	return false
}

func memberAfter(src []byte, end int) []byte {
	i := skipSpace(src, end)
	if i >= len(src) || src[i] != '.' {
		return nil
	}
	i = skipSpace(src, i+1)
	if i >= len(src) || !isIdentStart(src[i]) {
		return nil
	}
	return src[i:scanIdent(src, i)]
}

func skipSpace(src []byte, i int) int {
	for i < len(src) && isSpace(src[i]) {
		i++
	}
	return i
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }
func isDigit(c byte) bool { return c >= '0' && c <= '9' }
func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
