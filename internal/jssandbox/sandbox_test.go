package jssandbox

import (
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func TestSandbox_MutatesDOM(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<html><body><div id="target">old</div></body></html>`))
	require.NoError(t, err)

	sb := New(doc)
	err = sb.Run(`document.querySelector("#target").innerText = "new";`, time.Second)
	require.NoError(t, err)

	require.Equal(t, "new", doc.Find("#target").Text())
}

func TestSandbox_BudgetExceeded(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<html><body></body></html>`))
	require.NoError(t, err)

	sb := New(doc)
	err = sb.Run(`while (true) {}`, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrBudgetExceeded)
}
