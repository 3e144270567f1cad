package tabular

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectRows(t *testing.T, rowCh <-chan Row, errCh <-chan error) ([]Row, error) {
	t.Helper()
	var rows []Row
	for row := range rowCh {
		rows = append(rows, row)
	}
	for err := range errCh {
		if err != nil {
			return rows, err
		}
	}
	return rows, nil
}

func TestReader_HeaderLookup(t *testing.T) {
	r, err := NewReader(strings.NewReader("gbifID,decimalLatitude,Value\n1,2,3\n"), Options{})
	require.NoError(t, err)

	assert.Equal(t, 0, r.Header.Index("gbifid"))
	assert.Equal(t, 1, r.Header.Index("lat", "decimalLatitude"))
	assert.Equal(t, -1, r.Header.Index("missing"))
	assert.Equal(t, []string{"gbifID", "decimalLatitude", "Value"}, r.Names)
}

func TestReader_TabDelimited(t *testing.T) {
	input := "a\tb\tc\n1\t2\t3\n4\t5\t6\n"
	r, err := NewReader(strings.NewReader(input), Options{Delimiter: '\t'})
	require.NoError(t, err)

	rowCh, errCh := r.Stream(context.Background())
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"1", "2", "3"}, rows[0].Fields)
	assert.Equal(t, 2, rows[1].Line)
	assert.Equal(t, "6", rows[1].Get(2))
	assert.Equal(t, "", rows[1].Get(7))
}

func TestReader_MissingHeader(t *testing.T) {
	_, err := NewReader(strings.NewReader(""), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing header")
}

func TestReader_TrimSpaceAndComments(t *testing.T) {
	input := "# grid export\n lat , lon , v \n 1 , 2 , 3 \n# trailing\n"
	r, err := NewReader(strings.NewReader(input), Options{TrimSpace: true, Comment: '#'})
	require.NoError(t, err)
	assert.Equal(t, 2, r.Header.Index("v"))

	rowCh, errCh := r.Stream(context.Background())
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"1", "2", "3"}, rows[0].Fields)
}

func TestReader_LazyQuotesAndRaggedRows(t *testing.T) {
	input := "a,b,c\n1,\"hello \"world\",3\n4,5\n"
	r, err := NewReader(strings.NewReader(input), Options{LazyQuotes: true})
	require.NoError(t, err)

	rowCh, errCh := r.Stream(context.Background())
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Len(t, rows[1].Fields, 2)
}

func TestReader_ContextCancellation(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("a,b\n")
	for range 10000 {
		sb.WriteString("1,2\n")
	}
	r, err := NewReader(strings.NewReader(sb.String()), Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	rowCh, errCh := r.Stream(ctx)

	count := 0
	for range rowCh {
		count++
		if count >= 5 {
			cancel()
			break
		}
	}
	for range rowCh {
	}

	var gotErr error
	for err := range errCh {
		if err != nil {
			gotErr = err
		}
	}
	if gotErr != nil {
		assert.Contains(t, gotErr.Error(), "context cancelled")
	}
	cancel()
}

func TestReader_Charset(t *testing.T) {
	input := "species,n\nMytilus edul\xeds,1\n"
	r, err := NewReader(strings.NewReader(input), Options{Charset: "windows-1252"})
	require.NoError(t, err)

	rowCh, errCh := r.Stream(context.Background())
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Mytilus edulís", rows[0].Get(0))
}

func TestReader_UnsupportedCharset(t *testing.T) {
	_, err := NewReader(strings.NewReader("a\n1\n"), Options{Charset: "klingon"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported charset")
}
