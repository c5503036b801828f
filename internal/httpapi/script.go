package httpapi

import (
	"fmt"
	"net/http"
)

// trackingScript is the self-contained snippet site owners embed. It honors
// Do Not Track, keeps a generated session ID in localStorage, and fires on
// load plus SPA history navigation. Errors are swallowed so a broken
// collector can never break the host page.
const trackingScript = `(function() {
  'use strict';

  if (navigator.doNotTrack === '1' || window.doNotTrack === '1') {
    return;
  }

  var sessionId = localStorage.getItem('loupe_session_id');
  if (!sessionId) {
    sessionId = 'xxxxxxxx-xxxx-4xxx-yxxx-xxxxxxxxxxxx'.replace(/[xy]/g, function(c) {
      var r = Math.random() * 16 | 0;
      var v = c === 'x' ? r : (r & 0x3 | 0x8);
      return v.toString(16);
    });
    localStorage.setItem('loupe_session_id', sessionId);
  }

  function track() {
    fetch('%[1]s/api/track', {
      method: 'POST',
      headers: { 'Content-Type': 'application/json' },
      body: JSON.stringify({
        site_id: '%[2]s',
        session_id: sessionId,
        page: window.location.pathname,
        referrer: document.referrer || null
      })
    }).catch(function() {});
  }

  track();

  var originalPushState = history.pushState;
  var originalReplaceState = history.replaceState;

  history.pushState = function() {
    originalPushState.apply(history, arguments);
    setTimeout(track, 0);
  };

  history.replaceState = function() {
    originalReplaceState.apply(history, arguments);
    setTimeout(track, 0);
  };

  window.addEventListener('popstate', track);
})();
`

func (r *Router) handleScript(w http.ResponseWriter, req *http.Request, siteID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if _, err := r.site.Get(req.Context(), siteID); err != nil {
		r.notFound(w)
		return
	}
	w.Header().Set("Content-Type", "application/javascript")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	fmt.Fprintf(w, trackingScript, r.publicBaseURL, siteID)
}
