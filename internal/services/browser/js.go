package browser

import (
	"encoding/json"
	"fmt"

	"github.com/ternarybob/vetter/internal/models"
)

// jsString renders s as a JavaScript string literal
func jsString(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}

// jsElements renders an expression evaluating to the array of elements matching loc
func jsElements(loc models.Locator) string {
	if loc.By == models.ByXPath {
		return fmt.Sprintf(`(function(){const r=document.evaluate(%s,document,null,XPathResult.ORDERED_NODE_SNAPSHOT_TYPE,null);const a=[];for(let i=0;i<r.snapshotLength;i++){a.push(r.snapshotItem(i));}return a;})()`, jsString(loc.Query))
	}
	return fmt.Sprintf(`Array.from(document.querySelectorAll(%s))`, jsString(loc.Query))
}

func jsVisible(loc models.Locator) string {
	return fmt.Sprintf(`(%s).some(e=>!!(e.offsetWidth||e.offsetHeight||e.getClientRects().length))`, jsElements(loc))
}

func jsChecked(loc models.Locator) string {
	return fmt.Sprintf(`(function(){const e=(%s)[0];return e?{found:true,value:!!e.checked}:{found:false,value:false};})()`, jsElements(loc))
}

func jsTexts(loc models.Locator) string {
	return fmt.Sprintf(`(%s).map(e=>(e.innerText||e.textContent||"").trim())`, jsElements(loc))
}

func jsAttribute(loc models.Locator, name string) string {
	return fmt.Sprintf(`(function(){const e=(%s)[0];if(!e){return {found:false,has:false,value:""};}const v=e.getAttribute(%s);return {found:true,has:v!==null,value:v===null?"":v};})()`, jsElements(loc), jsString(name))
}

func jsSelect(loc models.Locator, value string) string {
	return fmt.Sprintf(`(function(){const e=(%s)[0];if(!e){return false;}e.value=%s;e.dispatchEvent(new Event("input",{bubbles:true}));e.dispatchEvent(new Event("change",{bubbles:true}));return true;})()`, jsElements(loc), jsString(value))
}

type jsFlag struct {
	Found bool `json:"found"`
	Value bool `json:"value"`
}

type jsAttr struct {
	Found bool   `json:"found"`
	Has   bool   `json:"has"`
	Value string `json:"value"`
}
