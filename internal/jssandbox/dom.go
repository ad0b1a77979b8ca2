package jssandbox

import (
	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"
)

// DOM is the minimal DOM facade exposed to sandboxed scripts, fixed per
// spec §9's open-question decision: selector reads, innerText get/set,
// attribute get/set, no network, single goroutine per evaluation. No
// timers, no fetch/XHR bindings are registered.
type DOM struct {
	doc *goquery.Document
}

func newDOM(doc *goquery.Document) *DOM {
	return &DOM{doc: doc}
}

// Element wraps one matched node for script-visible access.
type Element struct {
	sel *goquery.Selection
}

func (d *DOM) querySelector(selector string) *Element {
	sel := d.doc.Find(selector).First()
	if sel.Length() == 0 {
		return nil
	}
	return &Element{sel: sel}
}

func (d *DOM) querySelectorAll(selector string) []*Element {
	sel := d.doc.Find(selector)
	out := make([]*Element, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, &Element{sel: s})
	})
	return out
}

func (e *Element) innerText() string {
	if e == nil {
		return ""
	}
	return e.sel.Text()
}

func (e *Element) setInnerText(text string) {
	if e == nil {
		return
	}
	e.sel.SetText(text)
}

func (e *Element) getAttribute(name string) string {
	if e == nil {
		return ""
	}
	v, _ := e.sel.Attr(name)
	return v
}

func (e *Element) setAttribute(name, value string) {
	if e == nil {
		return
	}
	e.sel.SetAttr(name, value)
}

// registerDOM installs document.querySelector/querySelectorAll into the
// goja runtime's global scope, the JS-visible surface of DOM.
func registerDOM(vm *goja.Runtime, dom *DOM) {
	document := vm.NewObject()
	_ = document.Set("querySelector", func(call goja.FunctionCall) goja.Value {
		selector := call.Argument(0).String()
		el := dom.querySelector(selector)
		if el == nil {
			return goja.Null()
		}
		return wrapElement(vm, el)
	})
	_ = document.Set("querySelectorAll", func(call goja.FunctionCall) goja.Value {
		selector := call.Argument(0).String()
		els := dom.querySelectorAll(selector)
		wrapped := make([]interface{}, 0, len(els))
		for _, el := range els {
			wrapped = append(wrapped, wrapElement(vm, el))
		}
		return vm.NewArray(wrapped...)
	})
	_ = vm.Set("document", document)
}

func wrapElement(vm *goja.Runtime, el *Element) *goja.Object {
	obj := vm.NewObject()

	getter := vm.ToValue(func(goja.FunctionCall) goja.Value {
		return vm.ToValue(el.innerText())
	})
	setter := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		el.setInnerText(call.Argument(0).String())
		return goja.Undefined()
	})
	_ = obj.DefineAccessorProperty("innerText", getter, setter, goja.FLAG_TRUE, goja.FLAG_TRUE)
	_ = obj.DefineAccessorProperty("textContent", getter, setter, goja.FLAG_TRUE, goja.FLAG_TRUE)

	_ = obj.Set("getAttribute", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(el.getAttribute(call.Argument(0).String()))
	})
	_ = obj.Set("setAttribute", func(call goja.FunctionCall) goja.Value {
		el.setAttribute(call.Argument(0).String(), call.Argument(1).String())
		return goja.Undefined()
	})
	return obj
}
