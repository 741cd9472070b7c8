package browser

import "fmt"

// applyStealth injects the evasion script before any page script runs.
// Applied at context creation, before navigation, so no in-page script
// ever observes the unpatched fingerprinting surface.
func applyStealth(page interface {
	EvalOnNewDocument(js string) (func() error, error)
}) error {
	_, err := page.EvalOnNewDocument(stealthScript)
	return err
}

// webglVendorPool is a fixed set of plausible vendor/renderer pairs; one is
// picked at random each time the stealth script runs (every new document),
// so fingerprints vary without looking synthetic (all-identical) to the
// target site.
var webglVendorPool = []struct{ Vendor, Renderer string }{
	{"Google Inc. (Intel)", "ANGLE (Intel, Intel(R) UHD Graphics 620 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{"Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce GTX 1660 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{"Google Inc. (AMD)", "ANGLE (AMD, AMD Radeon RX 580 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
}

// stealthScript is injected via EvalOnNewDocument so it runs before the
// target page's own scripts observe navigator/canvas/WebGL. The canvas
// jitter flips the low bit of the red channel in about 0.1% of the pixels
// read back, so rendered output stays visually indistinguishable while
// defeating pixel-hash fingerprinting.
var stealthScript = fmt.Sprintf(`(() => {
	const pool = %s;
	const pick = pool[Math.floor(Math.random() * pool.length)];

	Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
	delete window.cdc_adoQpoasnfa76pfcZLmcfl_Array;
	delete window.cdc_adoQpoasnfa76pfcZLmcfl_Promise;
	delete window.cdc_adoQpoasnfa76pfcZLmcfl_Symbol;

	const origGetContext = HTMLCanvasElement.prototype.getContext;
	HTMLCanvasElement.prototype.getContext = function (type, ...rest) {
		const ctx = origGetContext.call(this, type, ...rest);
		if (ctx && type === '2d') {
			const origGetImageData = ctx.getImageData.bind(ctx);
			ctx.getImageData = function (...args) {
				const data = origGetImageData(...args);
				for (let i = 0; i < data.data.length; i += 4) {
					if (Math.random() < 0.001) {
						data.data[i] = data.data[i] ^ 1;
					}
				}
				return data;
			};
		}
		return ctx;
	};

	const origGetParameter = WebGLRenderingContext.prototype.getParameter;
	WebGLRenderingContext.prototype.getParameter = function (param) {
		if (param === 37445) return pick.Vendor;
		if (param === 37446) return pick.Renderer;
		return origGetParameter.call(this, param);
	};

	const origNow = Performance.prototype.now;
	Performance.prototype.now = function () {
		return origNow.call(this) + (Math.random() * 50 - 25);
	};
})();`, webglPoolJSON())

func webglPoolJSON() string {
	s := "["
	for i, p := range webglVendorPool {
		if i > 0 {
			s += ","
		}
		s += fmt.Sprintf(`{"Vendor":%q,"Renderer":%q}`, p.Vendor, p.Renderer)
	}
	return s + "]"
}
