package emitter

// runtime is the module loader placed in every entry chunk. Each table
// entry is [factory, dependencies] where dependencies maps a specifier to
// [index, lazy]. A lazy dependency closes an import cycle and is bound
// through a proxy that reads the live exports on every access.
const runtime = `function __fluxpack_start(modules, entries, registry) {
  var cache = registry ? registry.cache : {};
  function __lookup(index) {
    var def = modules[index];
    if (!def && registry) def = registry.modules[index];
    if (!def) throw new Error("fluxpack: module " + index + " is not loaded");
    return def;
  }
  function __require(index) {
    var cached = cache[index];
    if (cached) return cached.exports;
    var def = __lookup(index);
    var module = cache[index] = { exports: {} };
    def[0].call(module.exports, module, module.exports, function (specifier) {
      var dep = def[1][specifier];
      if (!dep) throw new Error("Cannot find module '" + specifier + "'");
      return dep[1] ? __lazy(dep[0]) : __require(dep[0]);
    });
    return module.exports;
  }
  function __lazy(index) {
    var live = function () { return __require(index); };
    return new Proxy({}, {
      get: function (target, key) { return live()[key]; },
      has: function (target, key) { return key in live(); },
      ownKeys: function () { return Reflect.ownKeys(live()); },
      getOwnPropertyDescriptor: function (target, key) {
        var desc = Object.getOwnPropertyDescriptor(live(), key);
        if (desc) desc.configurable = true;
        return desc;
      }
    });
  }
  var result;
  for (var i = 0; i < entries.length; i++) result = __require(entries[i]);
  return result;
}
`

// registryExpr evaluates to the page-wide table that shared chunks fill
// and entry chunks read in multi-chunk builds.
func registryExpr(key string) string {
	return `(function (g) { return g[` + key + `] || (g[` + key + `] = { modules: {}, cache: {} }); })` +
		`(typeof globalThis !== "undefined" ? globalThis : typeof self !== "undefined" ? self : this)`
}
